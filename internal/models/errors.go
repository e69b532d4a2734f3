package models

import "errors"

// Fatal errors abort an extraction before any unit is processed.
var (
    ErrUnsupportedFormat = errors.New("unsupported format")
    ErrCorruptContainer  = errors.New("corrupt container")
    ErrResourceExceeded  = errors.New("resource limit exceeded")
)

// Unit-local errors are recovered in place and recorded as unit failures.
var (
    ErrUnitParse         = errors.New("unit parse error")
    ErrEngineUnavailable = errors.New("ocr engine unavailable")
    ErrTimeout           = errors.New("ocr timeout")
    ErrDepthExceeded     = errors.New("group depth exceeded")
)

// IsFatal reports whether err wraps one of the fatal extraction errors.
func IsFatal(err error) bool {
    return errors.Is(err, ErrUnsupportedFormat) ||
        errors.Is(err, ErrCorruptContainer) ||
        errors.Is(err, ErrResourceExceeded)
}

// FailureKindOf maps a unit-local error to its failure kind.
func FailureKindOf(err error) FailureKind {
    switch {
    case errors.Is(err, ErrTimeout):
        return FailureTimeout
    case errors.Is(err, ErrEngineUnavailable):
        return FailureEngineUnavailable
    case errors.Is(err, ErrDepthExceeded):
        return FailureDepthExceeded
    default:
        return FailureUnitParse
    }
}
