package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/BradenHooton/attemptguard/internal/services"
	pkghttp "github.com/BradenHooton/attemptguard/pkg/http"
)

// MaxGuardedBodyBytes caps how much of a guarded request body is buffered
const MaxGuardedBodyBytes = 1 << 20

type contextKey string

const attemptIdentityKey contextKey = "attempt_identity"

// AttemptIdentity is the composite identity a guarded request was counted under
type AttemptIdentity struct {
	Family models.AttemptFamily
	Bucket string
	Key    string
}

// WithAttemptIdentity stores id in ctx
func WithAttemptIdentity(ctx context.Context, id AttemptIdentity) context.Context {
	return context.WithValue(ctx, attemptIdentityKey, id)
}

// AttemptIdentityFromContext returns the identity stored by AttemptGuard
func AttemptIdentityFromContext(ctx context.Context) (AttemptIdentity, bool) {
	id, ok := ctx.Value(attemptIdentityKey).(AttemptIdentity)
	return id, ok
}

// AttemptGuard counts every request against svc and rejects identities inside
// their penalty window. The body is restored for the next handler.
func AttemptGuard(svc *services.AttemptGuardService, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	field := svc.Config().IdentityField
	family := svc.Config().Family

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if svc.Bypassed() {
				next.ServeHTTP(w, r)
				return
			}

			key, err := readIdentityField(r, field)
			if err != nil {
				if errors.Is(err, errBodyTooLarge) {
					pkghttp.WriteError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body too large")
					return
				}
				pkghttp.WriteMissingField(w, fmt.Sprintf("Request body must include a non-empty %q field", field))
				return
			}

			bucket := pkghttp.ExtractClientBucket(r, ipConfig)

			_, err = svc.Check(r.Context(), bucket, key)
			if err != nil {
				writeGuardError(w, err, logger)
				return
			}

			ctx := WithAttemptIdentity(r.Context(), AttemptIdentity{
				Family: family,
				Bucket: bucket,
				Key:    key,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeGuardError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var limited *models.RateLimitedError
	switch {
	case errors.As(err, &limited):
		pkghttp.WriteRateLimited(w, limited.RetryAfterSeconds(), limited.Message())
	case errors.Is(err, models.ErrMissingField):
		pkghttp.WriteMissingField(w, err.Error())
	case errors.Is(err, models.ErrStoreUnavailable):
		pkghttp.WriteStoreUnavailable(w, "Service temporarily unavailable")
	default:
		logger.Error("attempt guard failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

var (
	errBodyTooLarge = errors.New("request body too large")
	errNoIdentity   = errors.New("identity field missing")
)

// readIdentityField extracts field from a JSON object or form body
func readIdentityField(r *http.Request, field string) (string, error) {
	if r.Body == nil {
		return "", errNoIdentity
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxGuardedBodyBytes+1))
	_ = r.Body.Close()
	if err != nil {
		return "", errNoIdentity
	}
	if len(raw) > MaxGuardedBodyBytes {
		return "", errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	var value string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(raw))
		if err != nil {
			return "", errNoIdentity
		}
		value = form.Get(field)
	} else {
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			return "", errNoIdentity
		}
		s, ok := body[field].(string)
		if !ok {
			return "", errNoIdentity
		}
		value = s
	}

	value = normalizeIdentity(value)
	if value == "" {
		return "", errNoIdentity
	}
	return value, nil
}

// normalizeIdentity folds email addresses so case variants share a counter
func normalizeIdentity(value string) string {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "@") {
		value = strings.ToLower(value)
	}
	return value
}
