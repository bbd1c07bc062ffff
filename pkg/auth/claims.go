package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenClaims is the subset of the hosted auth backend's access token this
// service reads. The subject is the buyer's user id.
type AccessTokenClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the trimmed subject claim.
func (c *AccessTokenClaims) UserID() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Subject)
}
