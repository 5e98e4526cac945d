package domain

import "errors"

var (
	ErrItemNotFound        = errors.New("item not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrWriteConflict       = errors.New("write conflict")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidTransition   = errors.New("invalid reservation transition")

	// ErrStatusConflict is returned by reservation storage when the stored
	// status no longer matches the expected one.
	ErrStatusConflict = errors.New("reservation status conflict")
)
