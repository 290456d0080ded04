package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound            = errors.New("product not found")
	ErrWriteConflict       = errors.New("product was changed or removed by another request")
	ErrHasOrders           = errors.New("cannot be deleted because there are associated orders")
	ErrDuplicateProductNum = errors.New("product number already exists")
	ErrInvalidReference    = errors.New("category or model does not exist")
)

// ValidationError reports field problems on create or update. Input is the
// submission as received so the caller can show the form again.
type ValidationError struct {
	Input  ProductInput      `json:"input"`
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ConflictError is returned when a product cannot be deleted because order
// lines still reference it.
type ConflictError struct {
	ProductID int64
	Orders    int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("product %d %s", e.ProductID, ErrHasOrders.Error())
}

func (e *ConflictError) Unwrap() error { return ErrHasOrders }

// Message is the text shown to the operator.
func (e *ConflictError) Message() string {
	return "This product " + ErrHasOrders.Error() + "."
}
