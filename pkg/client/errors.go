package client

import (
	"errors"
	"fmt"

	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/transport/wire"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrValidation        = domain.ErrValidation
	ErrNotFound          = domain.ErrNotFound
	ErrUnauthorized      = domain.ErrUnauthorized
	ErrKeyUnavailable    = domain.ErrKeyUnavailable
	ErrOracleTimeout     = domain.ErrOracleTimeout
	ErrOracleUnreachable = domain.ErrOracleUnreachable
	ErrStructural        = domain.ErrStructural
	ErrQueryCancelled    = domain.ErrQueryCancelled
)

// APIError is a non-2xx response from stqd.
type APIError struct {
	Status  int
	Code    wire.Code
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stqd: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the error code to its sentinel so errors.Is works.
func (e *APIError) Unwrap() error {
	if s := wire.Sentinel(e.Code); s != nil {
		return s
	}
	return errors.New(string(e.Code))
}
