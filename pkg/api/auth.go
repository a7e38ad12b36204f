package api

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/memegrave/gravepool/pkg/app/errors"
	apphttp "github.com/memegrave/gravepool/pkg/app/http"
)

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// adminOnly guards the draw endpoints with an HS256 bearer token.
func (h *HTTP) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(nil, "missing bearer token"))
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if h.auth.JWTIssuer != "" {
			opts = append(opts, jwt.WithIssuer(h.auth.JWTIssuer))
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(h.auth.JWTSecret), nil
		}, opts...)
		if err != nil || !token.Valid {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(err, "invalid token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewAdminToken mints a short-lived admin token, used by operational
// tooling and tests.
func NewAdminToken(secret, issuer string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
