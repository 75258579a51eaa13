package media

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cocomeza/alcontruccionessrl/gallery"
	"github.com/gabriel-vasile/mimetype"
)

// Upload limits.
const (
	MaxImageSize = 10 << 20
	MaxVideoSize = 100 << 20
)

// Validation errors.
var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
	ErrEmptyFile       = errors.New("empty file")
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".webm": true, ".mov": true,
}

// content types accepted per kind, as detected from the file header
var sniffedTypes = map[gallery.MediaKind][]string{
	gallery.MediaKindImage: {"image/jpeg", "image/png", "image/webp", "image/gif"},
	gallery.MediaKindVideo: {"video/mp4", "video/webm", "video/quicktime", "video/x-m4v"},
}

// Validate checks an upload by extension and size, then sniffs the header
// of content. It reports the kind of media and the detected content type;
// the type the client declared is never trusted.
func Validate(filename string, size int64, content io.Reader) (gallery.MediaKind, string, error) {
	ext := strings.ToLower(path.Ext(filename))
	var kind gallery.MediaKind
	var limit int64
	switch {
	case imageExtensions[ext]:
		kind, limit = gallery.MediaKindImage, MaxImageSize
	case videoExtensions[ext]:
		kind, limit = gallery.MediaKindVideo, MaxVideoSize
	default:
		return gallery.MediaKindImage, "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	if size <= 0 {
		return kind, "", ErrEmptyFile
	}
	if size > limit {
		return kind, "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, size, limit)
	}
	mt, err := mimetype.DetectReader(content)
	if err != nil {
		return kind, "", fmt.Errorf("read %s: %w", filename, err)
	}
	for _, want := range sniffedTypes[kind] {
		if mt.Is(want) {
			return kind, want, nil
		}
	}
	return kind, "", fmt.Errorf("%w: %s content in a %s file", ErrUnsupportedType, mt.String(), ext)
}
