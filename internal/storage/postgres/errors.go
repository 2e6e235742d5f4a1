package postgres

import "github.com/open-apime/autoreply/internal/storage/model"

var ErrNotFound = model.ErrNotFound
