package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/clippy-oss/homie/marketplace-chat/internal/logger"
)

// Credentials hands out the current token. Refreshed returns a channel that is closed the next
// time the token changes.
type Credentials interface {
	Token() (string, error)
	Refreshed() <-chan struct{}
}

// CurrentIdentity resolves the identity of the current token.
func CurrentIdentity(c Credentials) (Identity, error) {
	token, err := c.Token()
	if err != nil {
		return Identity{}, err
	}
	return ParseIdentity(token)
}

// StaticCredentials holds a token set at startup or through Set.
type StaticCredentials struct {
	mu      sync.RWMutex
	token   string
	refresh chan struct{}
}

func NewStaticCredentials(token string) *StaticCredentials {
	return &StaticCredentials{
		token:   StripBearer(token),
		refresh: make(chan struct{}),
	}
}

func (s *StaticCredentials) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

func (s *StaticCredentials) Refreshed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// Set replaces the token and wakes everyone waiting on Refreshed.
func (s *StaticCredentials) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = StripBearer(token)
	close(s.refresh)
	s.refresh = make(chan struct{})
}

// FileCredentials reads the token from a file and reloads it whenever the file is written,
// created or renamed into place.
type FileCredentials struct {
	path    string
	static  *StaticCredentials
	watcher *fsnotify.Watcher
	log     zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewFileCredentials(path string) (*FileCredentials, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fc := &FileCredentials{
		path:   abs,
		static: NewStaticCredentials(""),
		log:    logger.Module("auth"),
		done:   make(chan struct{}),
	}
	if err := fc.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return fc, nil
}

func (f *FileCredentials) Token() (string, error) {
	return f.static.Token()
}

func (f *FileCredentials) Refreshed() <-chan struct{} {
	return f.static.Refreshed()
}

// Watch starts reloading the token on file changes until ctx is done or Close is called.
func (f *FileCredentials) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are noticed.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", f.path, err)
	}

	ctx, f.cancel = context.WithCancel(ctx)
	f.watcher = watcher
	go f.processEvents(ctx)
	return nil
}

func (f *FileCredentials) Close() error {
	if f.cancel == nil {
		return nil
	}
	f.cancel()
	<-f.done
	return f.watcher.Close()
}

func (f *FileCredentials) processEvents(ctx context.Context) {
	defer close(f.done)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := f.reload(); err != nil {
				f.log.Warn().Err(err).Str("path", f.path).Msg("failed to reload token")
				continue
			}
			f.log.Info().Str("path", f.path).Msg("token reloaded")

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn().Err(err).Msg("token watcher error")
		}
	}
}

func (f *FileCredentials) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	token := StripBearer(string(data))
	if current, _ := f.static.Token(); current == token {
		return nil
	}
	f.static.Set(token)
	return nil
}
