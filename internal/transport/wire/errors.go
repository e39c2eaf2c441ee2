// Package wire holds the JSON error envelope shared by the stquery HTTP
// servers and clients.
package wire

import (
	"errors"

	"github.com/kailas-cloud/stquery/internal/domain"
)

// Code is a machine-readable error code.
type Code string

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest        Code = "bad_request"
	CodeValidationFailed  Code = "validation_failed"
	CodeNotFound          Code = "not_found"
	CodeUnauthorized      Code = "unauthorized"
	CodeKeyUnavailable    Code = "key_unavailable"
	CodeDeserialization   Code = "deserialization_failed"
	CodeOracleTimeout     Code = "oracle_timeout"
	CodeOracleUnreachable Code = "oracle_unreachable"
	CodeStructural        Code = "structural_error"
	CodeQueryCancelled    Code = "query_cancelled"
	CodeInvalidTransition Code = "invalid_transition"
	CodeInternal          Code = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

var sentinels = map[Code]error{
	CodeValidationFailed:  domain.ErrValidation,
	CodeBadRequest:        domain.ErrValidation,
	CodeNotFound:          domain.ErrNotFound,
	CodeUnauthorized:      domain.ErrUnauthorized,
	CodeKeyUnavailable:    domain.ErrKeyUnavailable,
	CodeDeserialization:   domain.ErrDeserialization,
	CodeOracleTimeout:     domain.ErrOracleTimeout,
	CodeOracleUnreachable: domain.ErrOracleUnreachable,
	CodeStructural:        domain.ErrStructural,
	CodeQueryCancelled:    domain.ErrQueryCancelled,
	CodeInvalidTransition: domain.ErrInvalidTransition,
}

// Sentinel maps a code back to its domain error. Unknown codes return nil.
func Sentinel(code Code) error {
	return sentinels[code]
}

// CodeOf returns the code of the first sentinel err wraps, CodeInternal otherwise.
func CodeOf(err error) Code {
	for _, c := range []Code{
		CodeValidationFailed,
		CodeNotFound,
		CodeUnauthorized,
		CodeKeyUnavailable,
		CodeDeserialization,
		CodeOracleTimeout,
		CodeOracleUnreachable,
		CodeStructural,
		CodeQueryCancelled,
		CodeInvalidTransition,
	} {
		if errors.Is(err, sentinels[c]) {
			return c
		}
	}
	return CodeInternal
}
