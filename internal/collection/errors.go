package collection

import "errors"

var (
	ErrInvalidName       = errors.New("invalid collection name")
	ErrEmptyName         = errors.New("collection name cannot be empty")
	ErrNameTooLong       = errors.New("collection name exceeds 128 characters")
	ErrInvalidCharacters = errors.New("collection name contains invalid characters; only A-Z, a-z, 0-9, dash, and dot are allowed")
	ErrContainsSeparator = errors.New("name contains the table separator")
	ErrNotPrefixed       = errors.New("physical table does not carry the expected prefix")
)
