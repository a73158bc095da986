// Package namespace maps every user to a directory of their own under the
// screenshots root and guards every path segment that reaches the filesystem.
//
// Writes are last-write-wins: a store renames a fully written temp file over
// the target, so concurrent uploads of the same name never interleave bytes
// but the last rename decides the final contents.
package namespace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/aljoscha/shot-o-matic/internal/models"
)

const (
	maxSegmentLen = 255

	tempPrefix      = ".upload-"
	tombstonePrefix = ".deleted-"
)

type Manager struct {
	root    string
	allowed map[string]struct{}
}

// New prepares root and the extension allow-list. Extensions are matched
// case-insensitively and may be given with or without a leading dot.
func New(root string, extensions []string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving screenshots root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &models.StorageError{Op: "create root", Path: abs, Err: err}
	}

	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			allowed[ext] = struct{}{}
		}
	}

	return &Manager{root: abs, allowed: allowed}, nil
}

func (m *Manager) Root() string { return m.root }

// Extensions returns the allow-list in sorted order.
func (m *Manager) Extensions() []string {
	exts := make([]string, 0, len(m.allowed))
	for ext := range m.allowed {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Sanitize validates a single user-supplied path segment and returns it
// unchanged. Names with surrounding whitespace, separators, NUL or control
// characters are rejected, as are dot segments and hidden names.
func Sanitize(raw string) (string, error) {
	name := raw
	switch {
	case strings.TrimSpace(name) == "":
		return "", fmt.Errorf("%w: empty name", models.ErrInvalidName)
	case strings.TrimSpace(name) != name:
		return "", fmt.Errorf("%w: %q has surrounding whitespace", models.ErrInvalidName, raw)
	case !utf8.ValidString(name):
		return "", fmt.Errorf("%w: %q is not valid UTF-8", models.ErrInvalidName, raw)
	case len(name) > maxSegmentLen:
		return "", fmt.Errorf("%w: name longer than %d bytes", models.ErrInvalidName, maxSegmentLen)
	case strings.ContainsAny(name, "/\\\x00"):
		return "", fmt.Errorf("%w: %q contains a path separator", models.ErrInvalidName, raw)
	case strings.HasPrefix(name, "."):
		return "", fmt.Errorf("%w: %q is a dot or hidden name", models.ErrInvalidName, raw)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: %q contains control characters", models.ErrInvalidName, raw)
		}
	}
	return name, nil
}

// AllowedExtension reports whether filename has a suffix after its last dot
// that is in the allow-list.
func (m *Manager) AllowedExtension(filename string) bool {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return false
	}
	_, ok := m.allowed[strings.ToLower(filename[i+1:])]
	return ok
}

// JoinWithinRoot returns root/segments..., rejecting any result that escapes
// root.
func JoinWithinRoot(root string, segments ...string) (string, error) {
	abs := filepath.Clean(filepath.Join(append([]string{root}, segments...)...))
	rootClean := filepath.Clean(root)
	if abs != rootClean && !strings.HasPrefix(abs, rootClean+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes root", models.ErrInvalidName)
	}
	return abs, nil
}

func (m *Manager) dir(owner string) (string, error) {
	owner, err := Sanitize(owner)
	if err != nil {
		return "", err
	}
	return JoinWithinRoot(m.root, owner)
}

func (m *Manager) file(owner, filename string) (string, string, error) {
	dir, err := m.dir(owner)
	if err != nil {
		return "", "", err
	}
	name, err := Sanitize(filename)
	if err != nil {
		return "", "", err
	}
	path, err := JoinWithinRoot(dir, name)
	if err != nil {
		return "", "", err
	}
	return path, name, nil
}

// Create makes the namespace directory for owner and returns the namespace
// name. A directory that is already present is never adopted: it fails with a
// *models.StorageError wrapping models.ErrNamespaceExists.
func (m *Manager) Create(owner string) (string, error) {
	dir, err := m.dir(owner)
	if err != nil {
		return "", err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			err = models.ErrNamespaceExists
		}
		return "", &models.StorageError{Op: "create namespace", Path: dir, Err: err}
	}
	return filepath.Base(dir), nil
}

// Exists reports whether owner's namespace directory is present.
func (m *Manager) Exists(owner string) bool {
	dir, err := m.dir(owner)
	if err != nil {
		return false
	}
	st, err := os.Stat(dir)
	return err == nil && st.IsDir()
}

// Detach atomically moves owner's namespace out of the way, returning the
// tombstone path to hand to Purge or Reattach. A missing namespace yields an
// empty tombstone and no error.
func (m *Manager) Detach(owner string) (string, error) {
	dir, err := m.dir(owner)
	if err != nil {
		return "", err
	}
	tombstone := filepath.Join(m.root, tombstonePrefix+filepath.Base(dir)+"-"+strconv.FormatInt(time.Now().UnixNano(), 10))
	if err := os.Rename(dir, tombstone); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", &models.StorageError{Op: "detach namespace", Path: dir, Err: err}
	}
	return tombstone, nil
}

// Reattach undoes Detach.
func (m *Manager) Reattach(tombstone, owner string) error {
	if tombstone == "" {
		return nil
	}
	dir, err := m.dir(owner)
	if err != nil {
		return err
	}
	if err := os.Rename(tombstone, dir); err != nil {
		return &models.StorageError{Op: "reattach namespace", Path: dir, Err: err}
	}
	return nil
}

// Purge recursively removes a detached namespace.
func (m *Manager) Purge(tombstone string) error {
	if tombstone == "" {
		return nil
	}
	if filepath.Dir(tombstone) != m.root || !strings.HasPrefix(filepath.Base(tombstone), tombstonePrefix) {
		return &models.StorageError{Op: "purge namespace", Path: tombstone, Err: errors.New("not a tombstone")}
	}
	if err := os.RemoveAll(tombstone); err != nil {
		return &models.StorageError{Op: "purge namespace", Path: tombstone, Err: err}
	}
	return nil
}

// Store writes r into owner's namespace under filename, replacing any file of
// the same name. It returns the sanitized filename and the bytes written.
func (m *Manager) Store(owner, filename string, r io.Reader) (string, int64, error) {
	path, name, err := m.file(owner, filename)
	if err != nil {
		return "", 0, err
	}
	if !m.AllowedExtension(name) {
		return "", 0, fmt.Errorf("store %q: %w", name, models.ErrExtensionNotAllowed)
	}
	// The namespace can be briefly absent while its owner is being deleted,
	// so a missing directory is a storage failure rather than "not found".
	dir := filepath.Dir(path)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return "", 0, &models.StorageError{Op: "store screenshot", Path: dir, Err: fs.ErrNotExist}
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return "", 0, &models.StorageError{Op: "create temp file", Path: dir, Err: err}
	}
	tmpPath := tmp.Name()
	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpPath, 0o644)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, &models.StorageError{Op: "write screenshot", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, &models.StorageError{Op: "move screenshot into place", Path: path, Err: err}
	}
	return name, n, nil
}

// Open returns the stored file for streaming.
func (m *Manager) Open(owner, filename string) (*os.File, fs.FileInfo, error) {
	path, name, err := m.file(owner, filename)
	if err != nil {
		return nil, nil, err
	}
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("screenshot %s/%s: %w", owner, name, models.ErrNotFound)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &models.StorageError{Op: "open screenshot", Path: path, Err: err}
	}
	return f, st, nil
}

// Retrieve reads a stored screenshot fully into memory.
func (m *Manager) Retrieve(owner, filename string) ([]byte, error) {
	f, _, err := m.Open(owner, filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &models.StorageError{Op: "read screenshot", Path: f.Name(), Err: err}
	}
	return data, nil
}

// Remove deletes one screenshot. A missing file reports ErrNotFound.
func (m *Manager) Remove(owner, filename string) error {
	path, name, err := m.file(owner, filename)
	if err != nil {
		return err
	}
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return fmt.Errorf("screenshot %s/%s: %w", owner, name, models.ErrNotFound)
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("screenshot %s/%s: %w", owner, name, models.ErrNotFound)
		}
		return &models.StorageError{Op: "remove screenshot", Path: path, Err: err}
	}
	return nil
}

// List returns the filenames in owner's namespace in directory order
// (ascending by name). Hidden entries and subdirectories are skipped; a
// namespace that does not exist lists as empty.
func (m *Manager) List(owner string) ([]string, error) {
	dir, err := m.dir(owner)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &models.StorageError{Op: "list namespace", Path: dir, Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
