// Package apperror defines the engine's error kinds and maps validator errors into readable messages.
package apperror

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind classifies an error by how the engine reacts to it.
type Kind string

const (
	// KindValidation input rejected at the boundary, nothing mutated.
	KindValidation Kind = "validation"
	// KindState operation no longer applies to current state; callers treat it as a no-op.
	KindState Kind = "state"
	// KindDispatch an action failed; recorded in the audit log.
	KindDispatch Kind = "dispatch"
	// KindTimer a dwell tick failed; logged and the timer keeps running.
	KindTimer Kind = "timer"
)

// Error carries a kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation wraps err as a validation error.
func Validation(op string, err error) error { return &Error{Kind: KindValidation, Op: op, Err: err} }

// Validationf formats a validation error.
func Validationf(op, format string, args ...any) error {
	return Validation(op, fmt.Errorf(format, args...))
}

// State wraps err as a state error.
func State(op string, err error) error { return &Error{Kind: KindState, Op: op, Err: err} }

// Statef formats a state error.
func Statef(op, format string, args ...any) error { return State(op, fmt.Errorf(format, args...)) }

// Dispatch wraps err as a dispatch error.
func Dispatch(op string, err error) error { return &Error{Kind: KindDispatch, Op: op, Err: err} }

// Timer wraps err as a timer error.
func Timer(op string, err error) error { return &Error{Kind: KindTimer, Op: op, Err: err} }

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsState(err error) bool      { return KindOf(err) == KindState }
func IsDispatch(err error) bool   { return KindOf(err) == KindDispatch }
func IsTimer(err error) bool      { return KindOf(err) == KindTimer }

var (
	errRequired     = errors.New("is required")
	errOutOfRange   = errors.New("is out of range")
	errInvalidValue = errors.New("has an unsupported value")
	errNotPositive  = errors.New("must not be negative")
)

var customErrors = map[string]error{
	"LocationUpdate.UserID.required":      errRequired,
	"LocationUpdate.Coordinates.Lat.gte":  errOutOfRange,
	"LocationUpdate.Coordinates.Lat.lte":  errOutOfRange,
	"LocationUpdate.Coordinates.Lon.gte":  errOutOfRange,
	"LocationUpdate.Coordinates.Lon.lte":  errOutOfRange,
	"LocationUpdate.Accuracy.gte":         errNotPositive,
	"ProximitySample.MACAddress.required": errRequired,
	"ProximitySample.Kind.required":       errRequired,
	"ProximitySample.Kind.oneof":          errInvalidValue,
	"ProximitySample.RSSI.gte":            errOutOfRange,
	"ProximitySample.RSSI.lte":            errOutOfRange,
	"Zone.ID.required":                    errRequired,
	"Zone.UserID.required":                errRequired,
	"Device.ID.required":                  errRequired,
	"Device.UserID.required":              errRequired,
	"Device.MACAddress.required":          errRequired,
	"Device.RSSIThreshold.lte":            errOutOfRange,
	"Trigger.ID.required":                 errRequired,
	"Trigger.UserID.required":             errRequired,
	"Trigger.TriggerOn.oneof":             errInvalidValue,
	"Trigger.CooldownMinutes.gte":         errNotPositive,
}

// CustomValidationError converts validator errors into field → message pairs.
func CustomValidationError(err error) []map[string]string {
	errList := make([]map[string]string, 0)

	var validationErr validator.ValidationErrors
	if errors.As(err, &validationErr) {
		for _, e := range validationErr {
			field := e.StructNamespace()
			key := field + "." + e.Tag()

			errMsg := fmt.Sprintf("%s is invalid", field)
			if v, ok := customErrors[key]; ok {
				errMsg = v.Error()
			}
			errList = append(errList, map[string]string{e.Field(): errMsg})
		}
	}
	return errList
}

// FromValidator wraps a validator result as a validation error with a flattened message.
func FromValidator(op string, err error) error {
	if err == nil {
		return nil
	}
	list := CustomValidationError(err)
	if len(list) == 0 {
		return Validation(op, err)
	}
	parts := make([]string, 0, len(list))
	for _, m := range list {
		for field, msg := range m {
			parts = append(parts, field+" "+msg)
		}
	}
	sort.Strings(parts)
	return Validation(op, errors.New(strings.Join(parts, "; ")))
}
