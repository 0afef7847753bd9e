package postgres

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

// nullString converts a string to sql.NullString. Empty strings are treated as NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullTimeValue extracts a *time.Time from sql.NullTime.
func nullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// nullBytes returns nil for empty JSONB payloads so NULL is stored.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// idArray encodes ids as a uuid[] parameter.
func idArray(ids []shared.ID) any {
	return pq.Array(shared.IDStrings(ids))
}

// scanIDArray decodes a uuid[] column.
func scanIDArray(raw []string) ([]shared.ID, error) {
	out := make([]shared.ID, 0, len(raw))
	for _, s := range raw {
		id, err := shared.IDFromString(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// notFound maps sql.ErrNoRows onto the domain's not-found error.
func notFound(err, domainErr error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domainErr
	}
	return err
}
