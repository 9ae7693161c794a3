package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/ashureev/agent-relay/internal/config"
	"github.com/ashureev/agent-relay/internal/identity"
	"golang.org/x/crypto/bcrypt"
)

const authRealm = "agent-relay"

// BasicAuth rejects requests without the configured credentials. When a bcrypt
// hash is configured it takes precedence over the plain password.
func BasicAuth(cfg config.AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	wantUser := sha256.Sum256([]byte(cfg.Username))
	wantPass := sha256.Sum256([]byte(cfg.Password))
	hash := []byte(cfg.PasswordBcrypt)

	checkPassword := func(pass string) bool {
		if len(hash) > 0 {
			return bcrypt.CompareHashAndPassword(hash, []byte(pass)) == nil
		}
		got := sha256.Sum256([]byte(pass))
		return subtle.ConstantTimeCompare(got[:], wantPass[:]) == 1
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if ok {
				gotUser := sha256.Sum256([]byte(user))
				userOK := subtle.ConstantTimeCompare(gotUser[:], wantUser[:]) == 1
				// Always check the password so timing does not reveal the username.
				passOK := checkPassword(pass)
				if userOK && passOK {
					next.ServeHTTP(w, r.WithContext(identity.WithUsername(r.Context(), user)))
					return
				}
			}

			logger.Warn("Rejected unauthenticated request",
				"path", r.URL.Path,
				"remote_ip", identity.IPFromRequest(r),
				"credentials_present", ok,
			)
			w.Header().Set("WWW-Authenticate", `Basic realm="`+authRealm+`", charset="UTF-8"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Invalid credentials"}` + "\n"))
		})
	}
}
