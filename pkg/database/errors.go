// Package database provides sentinel errors for repository operations.
package database

import "errors"

// Sentinel errors for database operations
var (
	// ErrNotFound is returned when a requested entity is not found in the database
	ErrNotFound = errors.New("entity not found")

	// ErrProofNotFound is returned when a proof record is not found
	ErrProofNotFound = errors.New("proof not found")

	// ErrPaymentNotFound is returned when a settled payment record is not found
	ErrPaymentNotFound = errors.New("settled payment not found")
)
