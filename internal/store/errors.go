package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownIndex is returned by GetByIndex for an index the collection
	// does not declare.
	ErrUnknownIndex = errors.New("unknown index")

	// ErrMissingID is returned when a record without identifier is written.
	ErrMissingID = errors.New("record has no id")

	// ErrQuotaExceeded means the device ran out of storage. The write is lost
	// and must not be retried automatically.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrSerialization means a record could not be encoded for storage.
	ErrSerialization = errors.New("record serialization failed")
)

// postgres "disk_full" condition
const pgDiskFull = "53100"

// translate maps driver errors onto the storage error taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrFull {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgDiskFull {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}

	var (
		unsupportedType  *json.UnsupportedTypeError
		unsupportedValue *json.UnsupportedValueError
		marshalerErr     *json.MarshalerError
	)
	if errors.As(err, &unsupportedType) || errors.As(err, &unsupportedValue) || errors.As(err, &marshalerErr) {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	return err
}
