// Package credentials provides the portal credentials store.
// Settings are kept in a YAML or TOML file, chosen by extension, and
// reloaded when the file changes on disk.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Credentials are the stored portal login settings.
type Credentials struct {
	Username   string
	Password   string
	AutoSubmit bool
}

// Complete reports whether both username and password are set.
func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// fileSettings is the on-disk form. AutoSubmit is a pointer so an absent
// key defaults to true.
type fileSettings struct {
	Username   string `yaml:"username" toml:"username"`
	Password   string `yaml:"password" toml:"password"`
	AutoSubmit *bool  `yaml:"autoSubmit,omitempty" toml:"autoSubmit,omitempty"`
}

func (f fileSettings) credentials() Credentials {
	auto := true
	if f.AutoSubmit != nil {
		auto = *f.AutoSubmit
	}
	return Credentials{
		Username:   strings.TrimSpace(f.Username),
		Password:   f.Password,
		AutoSubmit: auto,
	}
}

// Store holds the current credentials. Reads are lock-free.
type Store struct {
	path    string
	current atomic.Value // Credentials
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex // serializes load and save
	closed  bool
}

// Open loads the settings file at path. A missing file yields empty
// credentials. With hotReload set, changes to the file are picked up.
func Open(path string, hotReload bool) (*Store, error) {
	s := &Store{
		path:   path,
		stopCh: make(chan struct{}),
	}
	s.current.Store(Credentials{AutoSubmit: true})

	if err := s.Reload(); err != nil {
		return nil, err
	}

	if hotReload {
		if err := s.startWatcher(); err != nil {
			log.Warn().
				Err(err).
				Str("path", path).
				Msg("Failed to start settings watcher, hot-reload disabled")
		} else {
			log.Info().
				Str("path", path).
				Msg("Hot-reload enabled for settings file")
		}
	}

	return s, nil
}

// NewStatic returns a store holding fixed credentials with no backing file.
func NewStatic(c Credentials) *Store {
	s := &Store{stopCh: make(chan struct{})}
	s.current.Store(c)
	return s
}

// Get returns the current credentials.
func (s *Store) Get() Credentials {
	return s.current.Load().(Credentials)
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Reload rereads the settings file. On a parse error the previous
// credentials stay in effect.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", s.path).Msg("Settings file not found, no credentials configured")
		s.current.Store(Credentials{AutoSubmit: true})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	fs, err := decode(s.path, data)
	if err != nil {
		return fmt.Errorf("failed to parse settings file: %w", err)
	}

	creds := fs.credentials()
	s.current.Store(creds)

	log.Info().
		Str("path", s.path).
		Bool("has_username", creds.Username != "").
		Bool("has_password", creds.Password != "").
		Bool("auto_submit", creds.AutoSubmit).
		Msg("Settings loaded")

	return nil
}

// Save writes credentials to the settings file atomically with mode 0600
// and updates the in-memory copy.
func (s *Store) Save(c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		s.current.Store(c)
		return nil
	}

	auto := c.AutoSubmit
	data, err := encode(s.path, fileSettings{
		Username:   c.Username,
		Password:   c.Password,
		AutoSubmit: &auto,
	})
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}

	s.current.Store(c)
	return nil
}

// Close stops the file watcher. Safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func decode(path string, data []byte) (fileSettings, error) {
	var fs fileSettings
	if isTOML(path) {
		if err := toml.Unmarshal(data, &fs); err != nil {
			return fs, fmt.Errorf("invalid TOML: %w", err)
		}
		return fs, nil
	}
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return fs, fmt.Errorf("invalid YAML: %w", err)
	}
	return fs, nil
}

func encode(path string, fs fileSettings) ([]byte, error) {
	if isTOML(path) {
		return toml.Marshal(fs)
	}
	return yaml.Marshal(fs)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmpFile.Name()
	removeTemp := true
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
		}
		if removeTemp {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("chmod temp settings: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp settings: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp settings: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}
	removeTemp = false
	return nil
}

// startWatcher watches the settings directory so that atomic replaces
// (rename over the file) are seen as well as in-place writes.
func (s *Store) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	s.watcher = watcher

	s.wg.Add(1)
	go s.watchFile()

	return nil
}

func (s *Store) watchFile() {
	defer s.wg.Done()

	const debounceDelay = 100 * time.Millisecond
	var debounceTimer *time.Timer
	target := filepath.Clean(s.path)

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("Settings file changed")

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				if err := s.Reload(); err != nil {
					log.Warn().
						Err(err).
						Str("path", s.path).
						Msg("Settings reload failed, keeping previous credentials")
				}
			})

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Settings watcher error")

		case <-s.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}
