// Package credentials keeps repository logins between runs and hands each
// run at most one lookup per server.
package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Credentials is a user name and password for one repository server.
type Credentials struct {
	User     string
	Password string
}

// Empty reports whether neither field is set.
func (c Credentials) Empty() bool {
	return c.User == "" && c.Password == ""
}

// Merge fills unset fields of c from fallback.
func (c Credentials) Merge(fallback Credentials) Credentials {
	if c.User == "" {
		c.User = fallback.User
	}
	if c.Password == "" {
		c.Password = fallback.Password
	}
	return c
}

// Store persists credentials keyed by server identity (the host name).
type Store interface {
	Lookup(server string) (Credentials, bool, error)
	Save(server string, creds Credentials) error
}

// FileStore keeps credentials in a dotenv file readable only by the owner.
type FileStore struct {
	Path string
}

// DefaultPath is credentials.env under the user configuration directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "eprints-archiver", "credentials.env"), nil
}

// NewFileStore returns a FileStore at path, or at DefaultPath when empty.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &FileStore{Path: path}, nil
}

// Lookup reads the entry for server. A missing file is not an error.
func (s *FileStore) Lookup(server string) (Credentials, bool, error) {
	values, err := s.read()
	if err != nil {
		return Credentials{}, false, err
	}
	userKey, passKey := keys(server)
	creds := Credentials{User: values[userKey], Password: values[passKey]}
	if creds.Empty() {
		return Credentials{}, false, nil
	}
	return creds, true, nil
}

// Save writes the entry for server, keeping other entries.
func (s *FileStore) Save(server string, creds Credentials) error {
	values, err := s.read()
	if err != nil {
		return err
	}
	userKey, passKey := keys(server)
	values[userKey] = creds.User
	values[passKey] = creds.Password

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	content, err := godotenv.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	// An existing file keeps its mode on open; tighten it before writing.
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return fmt.Errorf("protect credentials: %w", err)
	}
	if _, err := f.WriteString(content + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (s *FileStore) read() (map[string]string, error) {
	values, err := godotenv.Read(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return values, nil
}

// keys derives the variable names for server: EPRINTS_<HOST>_USER and
// EPRINTS_<HOST>_PASSWORD with the host upper-cased and punctuation replaced.
func keys(server string) (string, string) {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(server)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	prefix := "EPRINTS_" + b.String()
	return prefix + "_USER", prefix + "_PASSWORD"
}

type cached struct {
	creds Credentials
	found bool
	err   error
}

// Cache serves lookups from memory after the first read per server. A nil
// Store disables persistent lookups.
type Cache struct {
	store Store
	mu    sync.Mutex
	byKey map[string]cached
}

// NewCache wraps store.
func NewCache(store Store) *Cache {
	return &Cache{store: store, byKey: map[string]cached{}}
}

// Lookup returns the stored credentials for server, reading the store once.
func (c *Cache) Lookup(server string) (Credentials, bool, error) {
	if c == nil || c.store == nil {
		return Credentials{}, false, nil
	}
	key := strings.ToLower(server)
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit, ok := c.byKey[key]; ok {
		return hit.creds, hit.found, hit.err
	}
	creds, found, err := c.store.Lookup(server)
	c.byKey[key] = cached{creds: creds, found: found, err: err}
	return creds, found, err
}

// Resolve combines explicit values with the stored entry; explicit fields win.
// When both explicit fields are given and differ from what is stored, the
// store is updated.
func (c *Cache) Resolve(server string, explicit Credentials) (Credentials, error) {
	stored, found, err := c.Lookup(server)
	if err != nil {
		return explicit, err
	}
	creds := explicit.Merge(stored)
	if c == nil || c.store == nil || explicit.User == "" || explicit.Password == "" {
		return creds, nil
	}
	if found && stored == explicit {
		return creds, nil
	}
	if err := c.store.Save(server, explicit); err != nil {
		return creds, err
	}
	c.mu.Lock()
	c.byKey[strings.ToLower(server)] = cached{creds: explicit, found: true}
	c.mu.Unlock()
	return creds, nil
}
