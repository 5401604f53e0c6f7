// Package cache persists derived component status in an encrypted SQLite database.
package cache

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	keyFileName = "cache.key"
	keySize     = 32 // 256-bit SQLCipher key
)

// keyRecord is the key file of a cache database. Component state is per
// Android user, so a database only serves the user it was created for.
type keyRecord struct {
	UserID   int       `yaml:"user_id"`
	Database string    `yaml:"database"`
	Key      string    `yaml:"key"`
	Created  time.Time `yaml:"created"`
}

func (r *keyRecord) decode() ([]byte, error) {
	key, err := hex.DecodeString(r.Key)
	if err != nil {
		return nil, fmt.Errorf("malformed cache key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("cache key is %d bytes, want %d", len(key), keySize)
	}
	return key, nil
}

// cacheKey returns the key of the database in dataDir for userID. When the
// key file is missing, unreadable, or belongs to another user, the database
// can no longer be trusted: it is removed and a fresh key is written. The
// cache refills on the next refresh. The returned bool reports a reset.
func cacheKey(dataDir string, userID int) ([]byte, bool, error) {
	keyPath := filepath.Join(dataDir, keyFileName)
	dbPath := filepath.Join(dataDir, cacheDBName)

	rec, err := readKeyRecord(keyPath)
	if err == nil && rec.UserID == userID && rec.Database == cacheDBName {
		if key, err := rec.decode(); err == nil {
			return key, false, nil
		}
	}

	if err := removeDatabase(dbPath); err != nil {
		return nil, false, err
	}
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate cache key: %w", err)
	}
	rec = &keyRecord{
		UserID:   userID,
		Database: cacheDBName,
		Key:      hex.EncodeToString(key),
		Created:  time.Now().UTC(),
	}
	if err := writeKeyRecord(keyPath, rec); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

func readKeyRecord(path string) (*keyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec keyRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("malformed key file %s: %w", path, err)
	}
	return &rec, nil
}

// writeKeyRecord writes the record owner-only, via a temp file and rename.
func writeKeyRecord(path string, rec *keyRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode cache key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// removeDatabase deletes the database and its SQLite side files.
func removeDatabase(dbPath string) error {
	for _, p := range []string{dbPath, dbPath + "-journal", dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale cache %s: %w", p, err)
		}
	}
	return nil
}
