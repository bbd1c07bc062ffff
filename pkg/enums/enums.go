// Package enums holds the string enums persisted in Postgres and echoed on the
// wire. Each type lists its members once and shares the lookup helpers below.
package enums

import (
	"fmt"
	"slices"
)

func parseMember[T ~string](kind string, members []T, raw string) (T, error) {
	if v := T(raw); slices.Contains(members, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
