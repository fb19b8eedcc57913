package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestStaticCredentials(t *testing.T) {
	creds := NewStaticCredentials("")
	_, err := creds.Token()
	assert.ErrorIs(t, err, ErrNoToken)

	refreshed := creds.Refreshed()
	assert.False(t, isClosed(refreshed))

	creds.Set("Bearer fresh")
	assert.True(t, isClosed(refreshed))
	assert.False(t, isClosed(creds.Refreshed()))

	token, err := creds.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
}

func TestFileCredentialsInitialRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))

	creds, err := NewFileCredentials(path)
	require.NoError(t, err)

	token, err := creds.Token()
	require.NoError(t, err)
	assert.Equal(t, "first", token)
}

func TestFileCredentialsMissingFile(t *testing.T) {
	creds, err := NewFileCredentials(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)

	_, err = creds.Token()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFileCredentialsReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o600))

	creds, err := NewFileCredentials(path)
	require.NoError(t, err)
	require.NoError(t, creds.Watch(context.Background()))
	defer creds.Close()

	refreshed := creds.Refreshed()
	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))

	require.Eventually(t, func() bool {
		return isClosed(refreshed)
	}, 2*time.Second, 10*time.Millisecond)

	token, err := creds.Token()
	require.NoError(t, err)
	assert.Equal(t, "second", token)
}

func TestCurrentIdentity(t *testing.T) {
	creds := NewStaticCredentials(signToken(t, map[string]interface{}{"sub": "bob"}))
	id, err := CurrentIdentity(creds)
	require.NoError(t, err)
	assert.Equal(t, "bob", id.Username)
}
