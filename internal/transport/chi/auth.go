package chi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/stquery/internal/domain"
	"github.com/kailas-cloud/stquery/internal/logger"
	"github.com/kailas-cloud/stquery/internal/metrics"
	"github.com/kailas-cloud/stquery/internal/security"
	"github.com/kailas-cloud/stquery/internal/transport/wire"
)

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// APIKeyMiddleware returns a middleware that validates "Authorization: ApiKey <key>".
// If apiKeys is empty, authentication is disabled (pass-through).
func APIKeyMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	var validKeys []string
	for _, k := range apiKeys {
		if k != "" {
			validKeys = append(validKeys, k)
		}
	}

	return func(next http.Handler) http.Handler {
		if len(validKeys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			key, err := security.APIKeyFromHeader(r.Header)
			if err != nil {
				writeError(w, http.StatusUnauthorized, wire.CodeUnauthorized, "authorization header must use ApiKey scheme")
				return
			}
			for _, want := range validKeys {
				if security.KeyMatches(key, want) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusUnauthorized, wire.CodeUnauthorized, "invalid api key")
		})
	}
}

// NonceClaimer records used request nonces.
type NonceClaimer interface {
	Claim(ctx context.Context, client, nonce string) error
}

// OracleAuthConfig configures OracleAuthMiddleware. Every part is optional.
type OracleAuthConfig struct {
	// Clients maps a fog id to its API key. Empty disables key checks.
	Clients map[string]string
	// Signer verifies the HMAC token. Nil disables token checks.
	Signer *security.Signer
	// Nonces rejects replayed tokens. Used only together with Signer.
	Nonces NonceClaimer
}

// OracleAuthMiddleware authenticates fog servers calling the oracle: API key
// bound to X-Fog-ID, then a fresh HMAC token over the body, then a single-use nonce.
func OracleAuthMiddleware(cfg OracleAuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(cfg.Clients) == 0 && cfg.Signer == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			fogID := r.Header.Get(security.HeaderFogID)

			if len(cfg.Clients) > 0 {
				key, err := security.APIKeyFromHeader(r.Header)
				want, known := cfg.Clients[fogID]
				if err != nil || !known || !security.KeyMatches(key, want) {
					reject(w, r, "api_key", "invalid api key or fog id")
					return
				}
			}

			if cfg.Signer == nil {
				next.ServeHTTP(w, r)
				return
			}

			tok, err := security.TokenFromHeader(r.Header)
			if err != nil {
				reject(w, r, "token_missing", err.Error())
				return
			}
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "Invalid request body: "+err.Error())
				return
			}
			if err := cfg.Signer.Verify(tok, body); err != nil {
				reject(w, r, "token_invalid", "invalid or expired token")
				return
			}
			if cfg.Nonces != nil {
				if err := cfg.Nonces.Claim(r.Context(), fogID, tok.Nonce); err != nil {
					if errors.Is(err, domain.ErrUnauthorized) {
						reject(w, r, "replay", "nonce already used")
						return
					}
					logger.FromContext(r.Context()).Error("nonce store failed", zap.Error(err))
					writeError(w, http.StatusServiceUnavailable, wire.CodeInternal, "auth store unavailable")
					return
				}
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, reason, msg string) {
	metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
	logger.FromContext(r.Context()).Warn("oracle request rejected",
		zap.String("reason", reason),
		zap.String("path", r.URL.Path),
	)
	writeError(w, http.StatusUnauthorized, wire.CodeUnauthorized, msg)
}
