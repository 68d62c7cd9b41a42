// Package migration defines the immutable MigrationScript record, the
// MigrationLoader capability that discovers scripts, and the naming
// convention used to parse versioned and repeatable script names.
package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/sqlkeeper/keeper/internal/semver"
)

// Category distinguishes versioned scripts, which apply once in
// ascending version order, from repeatable scripts, which reapply
// whenever their checksum changes.
type Category uint8

const (
	Versioned Category = iota
	Repeatable
)

func (c Category) String() string {
	if c == Repeatable {
		return "Repeatable"
	}
	return "Versioned"
}

// BodyLoader reads a script's full body on demand. Implementations may
// read from disk, from an embed.FS, or from any other byte source.
type BodyLoader func() (io.ReadCloser, error)

// Script is an immutable record describing one migration source file.
// Versioned scripts carry a non-nil Version; repeatable scripts do not.
type Script struct {
	Category         Category
	Version          *semver.Version // non-nil iff Category == Versioned
	Name             string          // canonical identifier, e.g. "V1.2__add_users.sql"
	Description      string          // derived display string, e.g. "add users"
	MustRepeatAlways bool            // repeatable scripts only
	Encoding         string          // script decoding; defaults to "UTF-8"

	load BodyLoader

	mu       sync.Mutex
	body     []byte
	loaded   bool
	checksum string
}

// New constructs a Script. Encoding defaults to UTF-8 when empty.
func New(category Category, version *semver.Version, name, description string, mustRepeatAlways bool, encoding string, load BodyLoader) *Script {
	if encoding == "" {
		encoding = "UTF-8"
	}
	return &Script{
		Category:         category,
		Version:          version,
		Name:             name,
		Description:      description,
		MustRepeatAlways: mustRepeatAlways,
		Encoding:         encoding,
		load:             load,
	}
}

// Body returns the script's full byte content, reading and caching it
// on first access.
func (s *Script) Body() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.body, nil
	}
	r, err := s.load()
	if err != nil {
		return nil, errors.Wrapf(err, "load body for %s", s.Name)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read body for %s", s.Name)
	}
	s.body = data
	s.loaded = true
	return s.body, nil
}

// Checksum returns the deterministic hash of the script's normalized
// body: CRLF is normalized to LF and a leading UTF-8 BOM is stripped,
// then hashed with SHA-256 and hex-encoded. The result is cached.
func (s *Script) Checksum() (string, error) {
	s.mu.Lock()
	if s.checksum != "" {
		defer s.mu.Unlock()
		return s.checksum, nil
	}
	s.mu.Unlock()

	body, err := s.Body()
	if err != nil {
		return "", err
	}
	normalized := normalize(body)
	sum := sha256.Sum256(normalized)
	checksum := hex.EncodeToString(sum[:])

	s.mu.Lock()
	s.checksum = checksum
	s.mu.Unlock()
	return checksum, nil
}

func normalize(body []byte) []byte {
	body = []byte(strings.ReplaceAll(string(body), "\r\n", "\n"))
	const bom = "\xef\xbb\xbf"
	if strings.HasPrefix(string(body), bom) {
		body = body[len(bom):]
	}
	return body
}

// Key uniquely identifies a script within a set: for versioned scripts
// it is the version; for repeatable scripts it is the name.
func (s *Script) Key() string {
	if s.Category == Versioned {
		return "v:" + s.Version.String()
	}
	return "r:" + s.Name
}
