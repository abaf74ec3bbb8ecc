package analysis

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Workspace is the private scratch directory of one run.
type Workspace struct {
	dir string
}

// NewWorkspace creates <root>/run-<id> and its frames subdirectory.
// An empty root uses the system temp directory.
func NewWorkspace(root, id string) (*Workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp root: %w", err)
	}

	dir := filepath.Join(root, "run-"+id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "frames"), 0o700); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("creating frames directory: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string {
	return w.dir
}

// FramesDir returns the empty directory reserved for sampled frames.
func (w *Workspace) FramesDir() string {
	return filepath.Join(w.dir, "frames")
}

// Save copies r into the workspace under a sanitized form of name prefixed
// with role, returning the path and the number of bytes written.
func (w *Workspace) Save(role, name string, r io.Reader) (string, int64, error) {
	path := filepath.Join(w.dir, role+"-"+SafeFileName(name))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("creating %s file: %w", role, err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", n, fmt.Errorf("writing %s file: %w", role, err)
	}
	return path, n, nil
}

// Release removes the workspace and everything in it.
func (w *Workspace) Release() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("removing workspace: %w", err)
	}
	return nil
}

// removeDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func removeDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// SafeFileName reduces an uploaded file name to [A-Za-z0-9._-], keeping the extension.
func SafeFileName(name string) string {
	name = removeDiacritics(filepath.Base(strings.ReplaceAll(name, `\`, "/")))
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	safe = strings.TrimLeft(safe, ".")
	if safe == "" || strings.Trim(safe, "_") == "" {
		return "upload"
	}
	return safe
}
