package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnostics is the log-only view of a failure. It never reaches a client.
type Diagnostics struct {
	Message  string
	Code     Code
	Chain    []string
	Postgres *PostgresFault
}

// PostgresFault is the driver-level detail behind a failed statement. Both the
// pgx and lib/pq error types are recognized.
type PostgresFault struct {
	SQLState   string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Message: err.Error(), Code: As(err).codeOr("")}
	for link := err; link != nil; link = errors.Unwrap(link) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", link, link))
	}
	d.Postgres = postgresFault(err)
	return d
}

func postgresFault(err error) *PostgresFault {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &PostgresFault{
			SQLState:   pgErr.Code,
			Constraint: pgErr.ConstraintName,
			Table:      pgErr.TableName,
			Column:     pgErr.ColumnName,
			Detail:     pgErr.Detail,
			Message:    pgErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PostgresFault{
			SQLState:   string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}

// Fields flattens the diagnostics into structured log fields, skipping the
// database keys when no driver error was found.
func (d Diagnostics) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.Message,
		"error_chain": d.Chain,
	}
	if d.Code != "" {
		fields["error_code"] = string(d.Code)
	}
	if pg := d.Postgres; pg != nil {
		fields["pg_code"] = pg.SQLState
		fields["pg_constraint"] = pg.Constraint
		fields["pg_table"] = pg.Table
		fields["pg_column"] = pg.Column
		fields["pg_detail"] = pg.Detail
		fields["pg_message"] = pg.Message
	}
	return fields
}
