package transactions

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/bullionstore-backend/pkg/db"
	"github.com/angelmondragon/bullionstore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
)

// attemptIndex keeps one transaction per checkout attempt.
const attemptIndex = "uq_transactions_attempt_id"

// Repository persists transaction records.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository bound to db.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// WithTx binds the repository to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// InsertIfAbsent inserts rec keyed by its id. It reports false when a record
// with the same id already exists; the existing row is left untouched.
func (r *Repository) InsertIfAbsent(ctx context.Context, rec *models.Transaction) (bool, error) {
	if rec == nil || rec.ID == "" {
		return false, errors.New("transaction id required")
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		// The id conflict is absorbed above, so any unique failure left is the
		// attempt index: another payment already settled this attempt.
		if db.IsUniqueViolation(res.Error, attemptIndex) || db.IsUniqueViolation(res.Error, "transactions.attempt_id") {
			return false, pkgerrors.Wrap(pkgerrors.CodeConflict, res.Error, "attempt already recorded under another payment").
				WithDetails(map[string]any{"attempt_id": rec.AttemptID, "payment_id": rec.ID})
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FindByID loads one record.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.Transaction, error) {
	var rec models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
