package shared

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies a persisted entity. The zero ID is written to the database as NULL,
// which lets optional foreign keys (pr_id, live_commit_id, ...) use the same type.
type ID struct {
	value uuid.UUID
}

// NewID creates a new random ID.
func NewID() ID {
	return ID{value: uuid.New()}
}

// IDFromString parses an ID.
func IDFromString(s string) (ID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: invalid id %q", ErrInvalidInput, s)
	}
	return ID{value: parsed}, nil
}

// MustIDFromString parses an ID and panics on error. Intended for tests and constants.
func MustIDFromString(s string) ID {
	id, err := IDFromString(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IDFromUUID wraps a uuid.UUID.
func IDFromUUID(u uuid.UUID) ID {
	return ID{value: u}
}

func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.value.String()
}

// IsZero returns true if the ID is unset.
func (id ID) IsZero() bool {
	return id.value == uuid.Nil
}

// Equals checks if two IDs are equal.
func (id ID) Equals(other ID) bool {
	return id.value == other.value
}

// Ptr returns nil for the zero ID, otherwise a pointer to a copy.
func (id ID) Ptr() *ID {
	if id.IsZero() {
		return nil
	}
	return &id
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return id.value.String(), nil
}

// Scan implements sql.Scanner. NULL scans into the zero ID.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		id.value = uuid.Nil
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		id.value = parsed
	case []byte:
		parsed, err := uuid.ParseBytes(v)
		if err != nil {
			return err
		}
		id.value = parsed
	default:
		return fmt.Errorf("cannot scan type %T into ID", src)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler so IDs work as JSON values and map keys.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		id.value = uuid.Nil
		return nil
	}
	parsed, err := uuid.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("%w: invalid id", ErrInvalidInput)
	}
	id.value = parsed
	return nil
}

// IDStrings converts ids to their string form, skipping zero values.
func IDStrings(ids []ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !id.IsZero() {
			out = append(out, id.String())
		}
	}
	return out
}
