package media

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDownloader struct {
	mu    sync.Mutex
	calls map[string]int
	fail  bool
}

func (f *fakeDownloader) DownloadMedia(_ context.Context, mediaURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("boom")
	}
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[mediaURL]++
	return []byte("content of " + mediaURL), nil
}

func newTestCache(t *testing.T, size int) (*Cache, *fakeDownloader) {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	dl := &fakeDownloader{}
	cache, err := NewCache(store, dl, size)
	require.NoError(t, err)
	return cache, dl
}

func TestCacheFetchOnce(t *testing.T) {
	cache, dl := newTestCache(t, 4)
	ctx := context.Background()

	first, err := cache.Fetch(ctx, "/uploads/a.png")
	require.NoError(t, err)
	second, err := cache.Fetch(ctx, "/uploads/a.png")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, dl.calls["/uploads/a.png"])
	assert.Equal(t, ".png", first[len(first)-4:])

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "content of /uploads/a.png", string(data))
}

func TestCacheEvictionRemovesFile(t *testing.T) {
	cache, _ := newTestCache(t, 1)
	ctx := context.Background()

	first, err := cache.Fetch(ctx, "/uploads/a.png")
	require.NoError(t, err)
	_, err = cache.Fetch(ctx, "/uploads/b.png")
	require.NoError(t, err)

	assert.Equal(t, 1, cache.Len())
	assert.NoFileExists(t, first)
}

func TestCacheCloseReleasesEverything(t *testing.T) {
	cache, _ := newTestCache(t, 4)
	ctx := context.Background()

	a, err := cache.Fetch(ctx, "/uploads/a.png")
	require.NoError(t, err)
	b, err := cache.Fetch(ctx, "/uploads/b.pdf")
	require.NoError(t, err)

	require.NoError(t, cache.Close())
	assert.NoFileExists(t, a)
	assert.NoFileExists(t, b)

	_, err = cache.Fetch(ctx, "/uploads/c.png")
	assert.ErrorIs(t, err, ErrCacheClosed)

	entries, err := os.ReadDir(cache.store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCacheDownloadFailure(t *testing.T) {
	cache, dl := newTestCache(t, 4)
	dl.fail = true

	_, err := cache.Fetch(context.Background(), "/uploads/a.png")
	assert.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}
