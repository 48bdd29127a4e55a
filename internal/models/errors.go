package models

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("asset not found")

// Validation codes narrow a ValidationError for callers that map it to a
// protocol status. An empty code is a generic bad request.
const (
	CodeTooLarge    = "too_large"
	CodeUnsupported = "unsupported_type"
)

// ValidationError rejects a run before any job is scheduled.
type ValidationError struct {
	Field  string
	Reason string
	Code   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// EncodeError is local to one (breakpoint, codec) job.
type EncodeError struct {
	Breakpoint string
	Codec      Codec
	Err        error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s/%s: %v", e.Breakpoint, e.Codec, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// StorageError reports an object storage failure after retries ran out.
type StorageError struct {
	Op  string // put, delete, get
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

type CatalogWriteError struct {
	AssetID string
	Err     error
}

func (e *CatalogWriteError) Error() string {
	return fmt.Sprintf("catalog write %s: %v", e.AssetID, e.Err)
}

func (e *CatalogWriteError) Unwrap() error { return e.Err }

type Stage string

const (
	StageValidate Stage = "validate"
	StageEncode   Stage = "encode"
	StageStorage  Stage = "storage"
	StageCatalog  Stage = "catalog"
)

// RunError is returned when a whole processing run fails.
type RunError struct {
	Stage Stage
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("processing failed at %s stage: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ValidationCode returns the code of the ValidationError in err's chain, if any.
func ValidationCode(err error) string {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Code
	}
	return ""
}
