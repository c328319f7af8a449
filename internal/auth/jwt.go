// Package auth verifies the identity tokens issued by the platform's auth service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated is returned when a request carries no usable identity.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Claims is the subset of the platform token the coordinator needs.
type Claims struct {
	Sub      string `json:"sub"`
	Username string `json:"preferred_username"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	UserID   string
	Username string
}

// Parser validates HMAC-signed tokens.
type Parser struct {
	secret   []byte
	issuer   string
	audience string
}

func NewParser(secret, issuer, audience string) *Parser {
	return &Parser{secret: []byte(secret), issuer: issuer, audience: audience}
}

// Verify checks signature, expiry and, when configured, issuer and audience.
func (p *Parser) Verify(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("token is invalid")
	}
	if claims.Sub == "" {
		claims.Sub, _ = claims.GetSubject()
	}
	if claims.Sub == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

type ctxKey struct{}

// WithIdentity stores the caller on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the caller stored by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// Resolve extracts the caller from r. With a parser, the bearer header or the
// auth_token query parameter (browsers cannot set headers on websocket dials)
// must carry a valid token. Without one the service trusts X-User-ID or the
// userId query parameter; that mode is meant for local development.
func Resolve(p *Parser, r *http.Request) (Identity, error) {
	if p == nil {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			userID = r.URL.Query().Get("userId")
		}
		name := r.Header.Get("X-User-Name")
		if name == "" {
			name = r.URL.Query().Get("name")
		}
		if userID == "" {
			return Identity{}, ErrUnauthenticated
		}
		if name == "" {
			name = userID
		}
		return Identity{UserID: userID, Username: name}, nil
	}

	tokenStr := ""
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return Identity{}, ErrUnauthenticated
		}
		tokenStr = parts[1]
	}
	if tokenStr == "" {
		tokenStr = r.URL.Query().Get("auth_token")
	}
	if tokenStr == "" {
		return Identity{}, ErrUnauthenticated
	}
	claims, err := p.Verify(tokenStr)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	name := claims.Username
	if name == "" {
		name = claims.Sub
	}
	return Identity{UserID: claims.Sub, Username: name}, nil
}
