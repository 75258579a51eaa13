package gallery

import "strings"

// MediaKind is the enum for image/video timeline entries
type MediaKind int

// MediaKind enum instances
const (
	MediaKindImage MediaKind = iota
	MediaKindVideo
)

func (k MediaKind) String() string {
	switch k {
	case MediaKindImage:
		return "image"
	case MediaKindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// ParseMediaKind accepts "image"/"video" (and the "imagen" spelling used in
// the site's query strings). An empty string is an image.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "image", "imagen":
		return MediaKindImage, true
	case "video":
		return MediaKindVideo, true
	}
	return MediaKindImage, false
}

// MediaItem is a single entry of a gallery timeline.
type MediaItem struct {
	Kind MediaKind `json:"kind"`
	URL  string    `json:"url"`
}

// IsVideo reports whether the item is a video.
func (m MediaItem) IsVideo() bool { return m.Kind == MediaKindVideo }

// BuildTimeline concatenates all images followed by all videos, each in
// source order. The source slices are not retained.
func BuildTimeline(images, videos []string) []MediaItem {
	tl := make([]MediaItem, 0, len(images)+len(videos))
	for _, u := range images {
		tl = append(tl, MediaItem{Kind: MediaKindImage, URL: u})
	}
	for _, u := range videos {
		tl = append(tl, MediaItem{Kind: MediaKindVideo, URL: u})
	}
	return tl
}

// ResolveIndex maps an (initialIndex, kind) pair onto a timeline position.
// Videos start after the nImages images. Results outside [0, total) are
// clamped; total == 0 yields 0.
func ResolveIndex(nImages, total, initialIndex int, kind MediaKind) int {
	idx := initialIndex
	if kind == MediaKindVideo {
		idx = nImages + initialIndex
	}
	if total <= 0 || idx < 0 {
		return 0
	}
	if idx >= total {
		return total - 1
	}
	return idx
}
