package push

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TriggerAuthConfig contains authorization settings of the drain trigger.
type TriggerAuthConfig struct {
	// Secret is compared with the bearer token. A bearer may also be an HS256
	// JWT signed with Secret and carrying an expiry.
	Secret string
	// SchedulerHeader names a header set by the trusted scheduler. Empty disables it.
	SchedulerHeader string
	// AllowUnauthenticated permits any caller when Secret is empty.
	AllowUnauthenticated bool
}

// TriggerAuth authorizes drain trigger requests.
type TriggerAuth struct {
	config TriggerAuthConfig
}

// NewTriggerAuth creates a new trigger authorizer.
func NewTriggerAuth(config TriggerAuthConfig) *TriggerAuth {
	return &TriggerAuth{config: config}
}

// Authorize reports whether the request may trigger a drain pass.
func (a *TriggerAuth) Authorize(r *http.Request) bool {
	if a.config.SchedulerHeader != "" && r.Header.Get(a.config.SchedulerHeader) != "" {
		return true
	}

	if a.config.Secret == "" {
		return a.config.AllowUnauthenticated
	}

	token := bearerToken(r)
	if token == "" {
		return false
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(a.config.Secret)) == 1 {
		return true
	}

	return a.validSignedToken(token)
}

// Middleware rejects unauthorized requests with 401 before any work is done.
func (a *TriggerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorize(r) {
			respondFailure(w, http.StatusUnauthorized, ErrUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *TriggerAuth) validSignedToken(token string) bool {
	parsed, err := jwt.Parse(token, func(_ *jwt.Token) (interface{}, error) {
		return []byte(a.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	return err == nil && parsed.Valid
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
