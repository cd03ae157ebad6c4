// Package util provides logging, error types, and IPv4 helpers shared by
// the manager packages.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for orchestration failures
var (
	ErrNotFound              = errors.New("resource not found")
	ErrAlreadyExists         = errors.New("resource already exists")
	ErrValidationFailed      = errors.New("validation failed")
	ErrDeviceBusy            = errors.New("device has a modification in progress")
	ErrTunnelBusy            = errors.New("tunnel has a modification in progress")
	ErrAllocationExhausted   = errors.New("no free tunnel number in range")
	ErrVersionMismatch       = errors.New("router version mismatch")
	ErrUnsupportedEncryption = errors.New("unsupported encryption method")
	ErrQueueUnavailable      = errors.New("device job queue unavailable")
	ErrPreconditionFailed    = errors.New("operation precondition failed")
)

// PreconditionError reports an unmet requirement for an operation on a
// resource.
type PreconditionError struct {
	Operation   string
	Resource    string
	Requirement string
	Detail      string
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Operation, e.Resource, e.Requirement)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

// NewPreconditionError creates a precondition error
func NewPreconditionError(operation, resource, requirement, detail string) *PreconditionError {
	return &PreconditionError{
		Operation:   operation,
		Resource:    resource,
		Requirement: requirement,
		Detail:      detail,
	}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// BusyError reports a device or tunnel that already has an in-flight
// modification. At most one modification may be pending per resource.
type BusyError struct {
	Kind     string // "device" or "tunnel"
	Resource string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s %s already has a pending modification", e.Kind, e.Resource)
}

func (e *BusyError) Unwrap() error {
	if e.Kind == "tunnel" {
		return ErrTunnelBusy
	}
	return ErrDeviceBusy
}

// NewDeviceBusyError creates a busy error for a device
func NewDeviceBusyError(device string) *BusyError {
	return &BusyError{Kind: "device", Resource: device}
}

// NewTunnelBusyError creates a busy error for a tunnel
func NewTunnelBusyError(tunnel string) *BusyError {
	return &BusyError{Kind: "tunnel", Resource: tunnel}
}

// AllocationError reports tunnel number allocation failure for an organization
type AllocationError struct {
	Org      string
	Attempts int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("organization %s: no free tunnel number after %d attempts", e.Org, e.Attempts)
}

func (e *AllocationError) Unwrap() error {
	return ErrAllocationExhausted
}

// NewAllocationError creates an allocation exhaustion error
func NewAllocationError(org string, attempts int) *AllocationError {
	return &AllocationError{Org: org, Attempts: attempts}
}
