package sqlite

import (
	"database/sql"
	"errors"

	"github.com/open-apime/autoreply/internal/storage/model"
)

var ErrNotFound = model.ErrNotFound

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
