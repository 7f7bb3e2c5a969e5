package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// GetDropKey issues a fresh opaque token that must be presented to
// DropTable, guarding the destructive operation against accidental
// invocation (§4.3's two-step guard).
func (s *Store) GetDropKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("store: generate drop key: %w", err)
	}
	key := hex.EncodeToString(buf)
	s.dropKey = key
	return key, nil
}

// DropTable closes the database and removes its backing files, but
// only if key matches the most recently issued GetDropKey token.
// Removal is retried with bounded backoff since a concurrent reader
// may transiently hold the file open on some platforms.
func (s *Store) DropTable(ctx context.Context, key string) error {
	s.mu.Lock()
	expected := s.dropKey
	s.mu.Unlock()
	if expected == "" || key != expected {
		return ErrInvalidDropKey
	}

	if err := s.Close(); err != nil {
		return fmt.Errorf("store: close before drop: %w", err)
	}

	removeAll := func() error {
		for _, suffix := range []string{"", "-wal", "-shm", ".lock"} {
			if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(removeAll, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("store: remove table files: %w", err)
	}
	return nil
}
