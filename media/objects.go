package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cocomeza/alcontruccionessrl/gallery"
	"github.com/google/uuid"
)

// ErrBadKey is returned for keys that escape the store root.
var ErrBadKey = errors.New("invalid object key")

// ObjectStore keeps uploaded media addressed by key.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
	// URL returns a public URL for key.
	URL(key string) string
	// KeyFromURL is the inverse of URL; ok is false for foreign URLs.
	KeyFromURL(u string) (key string, ok bool)
}

// NewKey builds a fresh key for an upload of the given kind, keeping the
// original extension.
func NewKey(kind gallery.MediaKind, filename string) string {
	dir := "images"
	if kind == gallery.MediaKindVideo {
		dir = "videos"
	}
	ext := strings.ToLower(path.Ext(filename))
	return "obras/" + dir + "/" + uuid.New().String() + ext
}

func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrBadKey
	}
	c := path.Clean(key)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", ErrBadKey
	}
	return c, nil
}

// FileStore stores objects below a directory on disk.
type FileStore struct {
	root    string
	mirrors *Mirrors
}

// NewFileStore creates the root directory if needed. Public URLs are built
// from mirrors.
func NewFileStore(root string, mirrors *Mirrors) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &FileStore{root: root, mirrors: mirrors}, nil
}

// Root is the directory objects are written to.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) pathOf(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	p := filepath.Join(s.root, filepath.FromSlash(k))
	if !isSubpath(s.root, p) {
		return "", ErrBadKey
	}
	return p, nil
}

// Upload writes r to key atomically.
func (s *FileStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	p, err := s.pathOf(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := p + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open tmp: %w", err)
	}
	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: r}); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close tmp: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename tmp: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing object is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	p, err := s.pathOf(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// URL returns the public URL of key on one of the mirrors.
func (s *FileStore) URL(key string) string {
	return s.mirrors.URL(key)
}

// KeyFromURL strips a known mirror base off u.
func (s *FileStore) KeyFromURL(u string) (string, bool) {
	return s.mirrors.KeyFromURL(u)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// isSubpath ensures child is within root, preventing path traversal.
func isSubpath(root, child string) bool {
	absRoot, _ := filepath.Abs(root)
	absChild, _ := filepath.Abs(child)
	rel, err := filepath.Rel(absRoot, absChild)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
