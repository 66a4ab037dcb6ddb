package companion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const lockRetry = 50 * time.Millisecond

// TokenStore persists the companion token in a single file. A sibling
// lock file serialises the daemon and the auth command.
type TokenStore struct {
	path string
	lock *flock.Flock
}

// NewTokenStore creates a store backed by path
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the token file location
func (s *TokenStore) Path() string {
	return s.path
}

// Load returns the stored token, or "" when none was saved
func (s *TokenStore) Load(ctx context.Context) (string, error) {
	if err := s.acquire(ctx, false); err != nil {
		return "", err
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes the token, replacing any previous one
func (s *TokenStore) Save(ctx context.Context, token string) error {
	if err := s.acquire(ctx, true); err != nil {
		return err
	}
	defer s.lock.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace token: %w", err)
	}
	return nil
}

// Clear removes a rejected token
func (s *TokenStore) Clear(ctx context.Context) error {
	if err := s.acquire(ctx, true); err != nil {
		return err
	}
	defer s.lock.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

func (s *TokenStore) acquire(ctx context.Context, exclusive bool) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = s.lock.TryLockContext(ctx, lockRetry)
	} else {
		ok, err = s.lock.TryRLockContext(ctx, lockRetry)
	}
	if err != nil {
		return fmt.Errorf("acquire token lock: %w", err)
	}
	if !ok {
		return errors.New("token file is locked")
	}
	return nil
}
