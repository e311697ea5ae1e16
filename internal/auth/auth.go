package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// sessionCookie is where Clerk's frontend SDK keeps the session token.
const sessionCookie = "__session"

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Session, error)
}

// ClerkVerifier validates RS256 session tokens issued by Clerk.
type ClerkVerifier struct {
	key    *rsa.PublicKey
	parser *jwt.Parser
}

func NewClerkVerifier(publicKeyPEM, issuer string) (*ClerkVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Clerk public key: %w", err)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &ClerkVerifier{key: key, parser: jwt.NewParser(opts...)}, nil
}

func (v *ClerkVerifier) Authenticate(_ context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Session{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return Session{UserID: sub, Role: roleFromClaims(claims)}, nil
}

// roleFromClaims reads "role", falling back to "metadata.role".
func roleFromClaims(claims jwt.MapClaims) Role {
	if r, ok := claims["role"].(string); ok && r != "" {
		return ParseRole(r)
	}
	if md, ok := claims["metadata"].(map[string]any); ok {
		if r, ok := md["role"].(string); ok {
			return ParseRole(r)
		}
	}
	return RoleViewer
}

// Static authenticates every request as the same session. Local development only.
type Static struct {
	Session Session
}

func (s Static) Authenticate(context.Context, string) (Session, error) {
	return s.Session, nil
}

// Middleware resolves the caller's session once per request.
func Middleware(a Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := a.Authenticate(r.Context(), tokenFromRequest(r))
			if err != nil {
				logger.Info("authentication failed", "path", r.URL.Path, "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthenticated"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}
