package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/stratoslabs/llm-router/utils"
)

type contextKey string

// SubjectContextKey is the context key for the authenticated subject
const SubjectContextKey contextKey = "subject"

// TokenValidator validates bearer tokens for the ops API
type TokenValidator interface {
	ValidateToken(tokenString string) (subject string, err error)
}

// JWTValidator validates HS256-signed tokens issued for operators
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator with the given signing secret
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// ValidateToken parses and verifies the token, returning its subject claim
func (v *JWTValidator) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}

	subject, _ := claims.GetSubject()
	return subject, nil
}

// AuthMiddleware enforces bearer authentication on ops endpoints
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
	enabled   bool
}

// NewAuthMiddleware creates authentication middleware
func NewAuthMiddleware(validator TokenValidator, enabled bool, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
		enabled:   enabled,
	}
}

// RequireAuth validates the bearer token and stores the subject in the request context
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := extractBearerToken(r)
		if tokenString == "" {
			m.logger.Debug("missing bearer token",
				zap.String("path", r.URL.Path))
			utils.WriteUnauthorized(w, "Missing authorization token")
			return
		}

		subject, err := m.validator.ValidateToken(tokenString)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), SubjectContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the authenticated subject if present
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectContextKey).(string)
	return subject, ok
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
