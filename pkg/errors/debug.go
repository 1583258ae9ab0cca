package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump is a log-friendly view of an error chain.
type ErrorDump struct {
	TopMessage string
	Code       Code
	Reason     Reason
	Chain      []string
	// Postgres is set when a driver error sits anywhere in the chain.
	Postgres *PostgresDetail
}

// PostgresDetail carries the server-side fields of a pgx or lib/pq error.
type PostgresDetail struct {
	Code       string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

// Dump walks err and collects its typed metadata, every wrapped link and any
// postgres driver detail.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Reason = te.Reason()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	d.Postgres = postgresDetail(err)
	return d
}

func postgresDetail(err error) *PostgresDetail {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &PostgresDetail{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PostgresDetail{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}

// LogFields flattens the dump for structured logging, skipping empty values.
func (d ErrorDump) LogFields() map[string]any {
	fields := map[string]any{"error": d.TopMessage}
	put := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	put("error_code", string(d.Code))
	put("error_reason", string(d.Reason))
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	if pg := d.Postgres; pg != nil {
		put("pg_code", pg.Code)
		put("pg_constraint", pg.Constraint)
		put("pg_table", pg.Table)
		put("pg_column", pg.Column)
		put("pg_detail", pg.Detail)
		put("pg_message", pg.Message)
	}
	return fields
}
