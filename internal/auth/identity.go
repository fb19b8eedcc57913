// Package auth supplies the bearer token used for REST and STOMP connects and the identity
// encoded in it.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleWorker    Role = "WORKER"
	RoleCustomer  Role = "CUSTOMER"
	RoleUndefined Role = "UNDEFINED"
)

var (
	ErrNoToken      = errors.New("no token available")
	ErrTokenExpired = errors.New("token expired")
)

// Identity is the current user as described by the token claims. The backend verifies the
// signature; the client only reads the claims.
type Identity struct {
	UserID    int64
	Username  string
	Roles     []string
	ExpiresAt time.Time
}

// Role maps the granted authorities to the highest application role.
func (i Identity) Role() Role {
	for _, want := range []struct {
		authority string
		role      Role
	}{
		{"ROLE_ADMIN", RoleAdmin},
		{"ROLE_WORKER", RoleWorker},
		{"ROLE_CUSTOMER", RoleCustomer},
	} {
		for _, r := range i.Roles {
			if r == want.authority {
				return want.role
			}
		}
	}
	return RoleUndefined
}

func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// StripBearer removes a leading "Bearer " prefix.
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}

// ParseIdentity reads sub, id, rol and exp from the token without verifying it.
func ParseIdentity(token string) (Identity, error) {
	token = StripBearer(token)
	if token == "" {
		return Identity{}, ErrNoToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}

	id := Identity{}
	if sub, ok := claims["sub"].(string); ok {
		id.Username = sub
	}
	if uid, ok := claims["id"].(float64); ok {
		id.UserID = int64(uid)
	}
	switch rol := claims["rol"].(type) {
	case []interface{}:
		for _, r := range rol {
			if s, ok := r.(string); ok {
				id.Roles = append(id.Roles, s)
			}
		}
	case string:
		id.Roles = []string{rol}
	}
	if exp, ok := claims["exp"].(float64); ok {
		id.ExpiresAt = time.Unix(int64(exp), 0)
	}

	if id.Username == "" {
		return Identity{}, errors.New("token has no subject")
	}
	return id, nil
}
