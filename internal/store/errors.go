package store

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrPrescriptionRequired   = errors.New("prescription required")
	ErrAlreadyCancelled       = errors.New("sale already cancelled")
	ErrEmptySale              = errors.New("sale has no items")
	ErrSaleCancelled          = errors.New("sale is cancelled")
	ErrReturnExceedsAvailable = errors.New("return exceeds available quantity")
	ErrConflict               = errors.New("concurrent write conflict")

	ErrProductInUse  = errors.New("product is referenced by sales or movements")
	ErrDuplicate     = errors.New("already exists")
	ErrNegativeStock = errors.New("batch quantity would become negative")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func Invalid(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type PrescriptionRequiredError struct {
	ProductID int64
}

func (e *PrescriptionRequiredError) Error() string {
	return fmt.Sprintf("product %d requires a verified prescription", e.ProductID)
}

func (e *PrescriptionRequiredError) Unwrap() error {
	return ErrPrescriptionRequired
}

type ReturnExceedsAvailableError struct {
	SaleItemID int64
	Requested  int
	Available  int
}

func (e *ReturnExceedsAvailableError) Error() string {
	return fmt.Sprintf("return exceeds available quantity for sale item %d: requested %d, available %d",
		e.SaleItemID, e.Requested, e.Available)
}

func (e *ReturnExceedsAvailableError) Unwrap() error {
	return ErrReturnExceedsAvailable
}

// IsRetryable reports whether the operation may succeed when run again unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrPrescriptionRequired) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrEmptySale) ||
		errors.Is(err, ErrSaleCancelled) ||
		errors.Is(err, ErrReturnExceedsAvailable) ||
		errors.Is(err, ErrProductInUse) ||
		errors.Is(err, ErrDuplicate)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func NotFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
}
