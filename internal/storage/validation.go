// Package storage provides the SQLite persistence layer for tripwire.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/tripwire/internal/model"
)

// Validation errors.
var (
	ErrNilContext           = errors.New("context cannot be nil")
	ErrEmptyString          = errors.New("string parameter cannot be empty")
	ErrNilParameter         = errors.New("parameter cannot be nil")
	ErrInvalidDateRange     = errors.New("start date must be before end date")
	ErrInvalidCommunication = errors.New("invalid communication")
	ErrInvalidEmployee      = errors.New("invalid employee")
	ErrInvalidViolation     = errors.New("invalid violation")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateCommunication checks the immutable facts a connector must supply.
func validateCommunication(comm *model.Communication) error {
	if comm == nil {
		return fmt.Errorf("%w: communication", ErrNilParameter)
	}
	if comm.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidCommunication)
	}
	if comm.EmployeeID == "" {
		return fmt.Errorf("%w: missing employee ID", ErrInvalidCommunication)
	}
	if comm.SentAt.IsZero() {
		return fmt.Errorf("%w: missing sent time", ErrInvalidCommunication)
	}
	return nil
}

func validateEmployee(e *model.Employee) error {
	if e == nil {
		return fmt.Errorf("%w: employee", ErrNilParameter)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidEmployee)
	}
	return nil
}

func validateViolation(v *model.Violation) error {
	if v == nil {
		return fmt.Errorf("%w: violation", ErrNilParameter)
	}
	if v.EmployeeID == "" {
		return fmt.Errorf("%w: missing employee ID", ErrInvalidViolation)
	}
	if !v.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidViolation, v.Status)
	}
	if !v.Severity.IsValid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidViolation, v.Severity)
	}
	return nil
}
