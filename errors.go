/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"fmt"

	"github.com/tryfix/errors"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrInvalidSchema       = errors.New(`invalid schema`)
	ErrUnknownSchema       = errors.New(`unknown schema`)
	ErrConversion          = errors.New(`conversion failed`)
	ErrRegistryUnavailable = errors.New(`registry unavailable`)
)

// InvalidSchemaError is returned when a schema definition cannot be parsed. It is never retried.
type InvalidSchemaError struct {
	Subject string
	Err     error
}

func (e *InvalidSchemaError) Error() string {
	return fmt.Sprintf(`invalid schema for subject [%s]: %v`, e.Subject, e.Err)
}

func (e *InvalidSchemaError) Unwrap() error { return e.Err }

func (e *InvalidSchemaError) Is(target error) bool { return target == ErrInvalidSchema }

// UnknownSchemaError is returned when a reference is not present in the store.
type UnknownSchemaError struct {
	Reference Reference
}

func (e *UnknownSchemaError) Error() string {
	if e.Reference.Subject == `` && e.Reference.ID > 0 {
		return fmt.Sprintf(`schema id [%d] not registered`, e.Reference.ID)
	}
	return fmt.Sprintf(`subject [%s][%s] not registered`, e.Reference.Subject, Version(e.Reference.Version))
}

func (e *UnknownSchemaError) Is(target error) bool { return target == ErrUnknownSchema }

// ConversionError is returned when a payload does not fit the schema it is encoded or decoded with.
type ConversionError struct {
	Reference Reference
	Reason    string
	Err       error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf(`conversion failed for [%s]: %s`, e.Reference, e.Reason)
	if e.Err != nil {
		msg += fmt.Sprintf(`: %v`, e.Err)
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

// RegistryUnavailableError is returned once every attempt to reach a remote registry has failed.
type RegistryUnavailableError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *RegistryUnavailableError) Error() string {
	return fmt.Sprintf(`registry unavailable, %s failed after %d attempt/s: %v`, e.Operation, e.Attempts, e.Err)
}

func (e *RegistryUnavailableError) Unwrap() error { return e.Err }

func (e *RegistryUnavailableError) Is(target error) bool { return target == ErrRegistryUnavailable }
