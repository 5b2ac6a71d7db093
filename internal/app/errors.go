package app

import (
	"errors"
	"fmt"
	"strings"

	"versionstore/api/internal/versioning"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// errorKind is the metrics label for a failed operation.
func errorKind(err error) string {
	var domainErr *DomainError
	switch {
	case err == nil:
		return ""
	case versioning.IsNotFound(err):
		return "not_found"
	case versioning.IsConflict(err):
		return "conflict"
	case versioning.IsInvalidArgument(err):
		return "invalid_argument"
	case errors.As(err, &domainErr):
		return strings.ToLower(domainErr.Code)
	default:
		return "internal"
	}
}
