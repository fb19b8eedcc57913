package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestParseIdentity(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, jwt.MapClaims{
		"sub": "alice",
		"id":  42,
		"rol": []string{"ROLE_CUSTOMER"},
		"exp": exp.Unix(),
	})

	id, err := ParseIdentity("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, int64(42), id.UserID)
	assert.Equal(t, []string{"ROLE_CUSTOMER"}, id.Roles)
	assert.Equal(t, RoleCustomer, id.Role())
	assert.True(t, id.ExpiresAt.Equal(exp))
	assert.False(t, id.Expired(time.Now()))
	assert.True(t, id.Expired(exp.Add(time.Second)))
}

func TestParseIdentityRolePriority(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "root",
		"rol": []string{"ROLE_CUSTOMER", "ROLE_ADMIN"},
	})

	id, err := ParseIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, id.Role())
	assert.True(t, id.ExpiresAt.IsZero())
	assert.False(t, id.Expired(time.Now()))
}

func TestParseIdentityErrors(t *testing.T) {
	_, err := ParseIdentity("")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = ParseIdentity("not-a-jwt")
	assert.Error(t, err)

	_, err = ParseIdentity(signToken(t, jwt.MapClaims{"rol": []string{"ROLE_WORKER"}}))
	assert.Error(t, err)
}

func TestStripBearer(t *testing.T) {
	assert.Equal(t, "abc", StripBearer("Bearer abc"))
	assert.Equal(t, "abc", StripBearer("bearer  abc\n"))
	assert.Equal(t, "abc", StripBearer("abc"))
}
