package storage

import "errors"

var ErrDuplicateKey = errors.New("duplicate key")
