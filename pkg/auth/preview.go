package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PreviewToken redacts a credential for diagnostics: first and last four
// characters only. Tokens too short to redact meaningfully are fully masked.
// The full token must never appear in logs or broadcasts.
func PreviewToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "…" + token[len(token)-4:]
}

// TokenExpiry extracts the expiry claim when the opaque credential happens to
// be a JWT. The claims are read unverified and are used for display only;
// the credential is never structurally validated beyond being non-empty.
func TokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
