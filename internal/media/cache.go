package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/clippy-oss/homie/marketplace-chat/internal/logger"
)

var ErrCacheClosed = errors.New("media cache closed")

// Downloader fetches the bytes behind a media URL.
type Downloader interface {
	DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error)
}

// Cache keeps local copies of the media of one chat. Evicted and purged entries have their
// file removed.
type Cache struct {
	store      *Store
	downloader Downloader
	log        zerolog.Logger

	mu     sync.Mutex
	files  *lru.Cache[string, string]
	closed bool
}

func NewCache(store *Store, downloader Downloader, size int) (*Cache, error) {
	if size <= 0 {
		size = 64
	}
	c := &Cache{
		store:      store,
		downloader: downloader,
		log:        logger.Module("media"),
	}
	files, err := lru.NewWithEvict[string, string](size, c.evicted)
	if err != nil {
		return nil, fmt.Errorf("failed to create media cache: %w", err)
	}
	c.files = files
	return c, nil
}

// Fetch returns the local path for mediaURL, downloading it on first use.
func (c *Cache) Fetch(ctx context.Context, mediaURL string) (string, error) {
	if p, ok := c.Get(mediaURL); ok {
		return p, nil
	}

	data, err := c.downloader.DownloadMedia(ctx, mediaURL)
	if err != nil {
		return "", fmt.Errorf("failed to download media: %w", err)
	}

	local, err := c.store.Save(path.Base(mediaURL), data)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.release(local)
		return "", ErrCacheClosed
	}
	if existing, ok := c.files.Get(mediaURL); ok {
		// Fetched twice concurrently.
		c.release(local)
		return existing, nil
	}
	c.files.Add(mediaURL, local)
	return local, nil
}

func (c *Cache) Get(mediaURL string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", false
	}
	return c.files.Get(mediaURL)
}

func (c *Cache) Len() int {
	return c.files.Len()
}

// Close removes every cached file. Later fetches fail with ErrCacheClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.files.Purge()
	return nil
}

func (c *Cache) evicted(_ string, local string) {
	c.release(local)
}

func (c *Cache) release(local string) {
	if err := c.store.Release(local); err != nil {
		c.log.Warn().Err(err).Str("path", local).Msg("failed to release media")
	}
}
