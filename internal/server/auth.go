package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AnonRole is the only role the public API key may carry.
const AnonRole = "anon"

const keyIssuer = "folio"

type AuthConfig struct {
	JWTSecret string
}

type anonClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// IssueAnonKey signs the public API key handed to share viewers. It identifies
// the deployment, not a person; access to data always needs a share token. A
// zero ttl issues a key that never expires.
func IssueAnonKey(secret string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := anonClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   keyIssuer,
			Subject:  AnonRole,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Role: AnonRole,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateAnonKey(key, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(keyIssuer))
	claims := &anonClaims{}
	parsed, err := parser.ParseWithClaims(key, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}
	if claims.Role != AnonRole {
		return errors.New("unexpected role claim")
	}
	return nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// requestKey returns the API key from the apikey header, falling back to a
// bearer token.
func requestKey(req *http.Request) string {
	if key := strings.TrimSpace(req.Header.Get("apikey")); key != "" {
		return key
	}
	if token, ok := bearerToken(req.Header.Get("Authorization")); ok {
		return token
	}
	return ""
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	rpcPrefix := path.Join(basePath, "rpc") + "/"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == healthPath || !strings.HasPrefix(req.URL.Path, rpcPrefix) {
				next.ServeHTTP(w, req)
				return
			}
			key := requestKey(req)
			if key == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "api key required", nil))
				return
			}
			if err := authenticateAnonKey(key, cfg.JWTSecret); err != nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid api key", nil))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
