package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/transport/wire"
)

// maxBodyBytes bounds request bodies; a query carries a few hundred ciphertexts.
const maxBodyBytes = 256 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// An empty ciphertext counts as a missing value for "required".
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		ev, ok := field.Interface().(crypto.EncryptedValue)
		if !ok || ev.IsZero() {
			return nil
		}
		return true
	}, crypto.EncryptedValue{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code wire.Code, message string) {
	writeJSON(w, status, wire.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func sentinelHandler(sentinel error, status int, code wire.Code) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// validationHandler exposes the offending field; other messages stay generic.
func validationHandler(w http.ResponseWriter, err error, _ string) bool {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	writeError(w, http.StatusBadRequest, wire.CodeValidationFailed, ve.Error())
	return true
}

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		validationHandler,
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, wire.CodeValidationFailed),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, wire.CodeNotFound),
		sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, wire.CodeUnauthorized),
		sentinelHandler(domain.ErrDeserialization, http.StatusUnprocessableEntity, wire.CodeDeserialization),
		sentinelHandler(domain.ErrKeyUnavailable, http.StatusServiceUnavailable, wire.CodeKeyUnavailable),
		sentinelHandler(domain.ErrOracleTimeout, http.StatusGatewayTimeout, wire.CodeOracleTimeout),
		sentinelHandler(domain.ErrOracleUnreachable, http.StatusBadGateway, wire.CodeOracleUnreachable),
		sentinelHandler(domain.ErrStructural, http.StatusInternalServerError, wire.CodeStructural),
		sentinelHandler(domain.ErrQueryCancelled, http.StatusConflict, wire.CodeQueryCancelled),
		sentinelHandler(domain.ErrInvalidTransition, http.StatusConflict, wire.CodeInvalidTransition),
	}
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	if code := wire.CodeOf(err); code != wire.CodeInternal {
		return wire.Sentinel(code).Error()
	}
	return "internal error"
}

// errorMapper turns domain errors into JSON responses.
type errorMapper struct {
	logger   *zap.Logger
	handlers []errorHandler
}

func newErrorMapper(logger *zap.Logger) errorMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return errorMapper{logger: logger, handlers: defaultErrorHandlers()}
}

func (m errorMapper) handleDomainError(w http.ResponseWriter, err error) {
	m.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range m.handlers {
		if h(w, err, msg) {
			return
		}
	}
	m.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, wire.CodeInternal, "internal error")
}

// decodeBody reads a JSON body into dst and runs struct validation.
// Ciphertexts that fail to parse are reported as deserialization errors.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, domain.ErrDeserialization) {
			writeError(w, http.StatusUnprocessableEntity, wire.CodeDeserialization, err.Error())
			return false
		}
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeValidationFailed, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err.Error()
	}
	fe := errs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag())
}
