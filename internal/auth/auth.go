// Package auth resolves the caller of a request into a user and role. It
// does not authenticate passwords; tokens are minted by an admin.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleEncoder Role = "encoder"
	RoleViewer  Role = "viewer"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(s)) {
	case RoleAdmin, RoleEncoder, RoleViewer:
		return Role(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CanIssue reports whether the role may issue receipts and retry channels.
func (r Role) CanIssue() bool {
	return r == RoleAdmin || r == RoleEncoder
}

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

var ErrUnauthenticated = errors.New("unauthenticated")

// Context is the capability lookup handed to the receipt service.
type Context interface {
	CurrentUser() (User, error)
}

// Static is a Context for an already resolved user.
type Static User

func (s Static) CurrentUser() (User, error) {
	if s.ID == "" {
		return User{}, ErrUnauthenticated
	}
	return User(s), nil
}

// Anonymous is the Context of a request without credentials.
var Anonymous Context = Static{}

type claims struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and parses HMAC bearer tokens.
type Issuer struct {
	secret []byte
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Mint signs a token for u valid for ttl.
func (i *Issuer) Mint(u User, ttl time.Duration) (string, error) {
	if _, err := ParseRole(string(u.Role)); err != nil {
		return "", err
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name: u.Name,
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(i.secret)
}

// Parse validates a token and returns its user.
func (i *Issuer) Parse(tokenString string) (User, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return User{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	role, err := ParseRole(string(c.Role))
	if err != nil || c.Subject == "" {
		return User{}, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}
	return User{ID: c.Subject, Name: c.Name, Role: role}, nil
}

// FromAuthorization resolves an Authorization header. An empty header is
// Anonymous; a present but invalid one is an error.
func (i *Issuer) FromAuthorization(header string) (Context, error) {
	if header == "" {
		return Anonymous, nil
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, fmt.Errorf("%w: expected bearer token", ErrUnauthenticated)
	}
	u, err := i.Parse(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, err
	}
	return Static(u), nil
}

type ctxKey struct{}

// WithContext stores the request's auth Context.
func WithContext(ctx context.Context, a Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the stored auth Context, or Anonymous.
func FromContext(ctx context.Context) Context {
	if a, ok := ctx.Value(ctxKey{}).(Context); ok {
		return a
	}
	return Anonymous
}
