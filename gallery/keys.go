package gallery

import "context"

// Key is a keyboard key as reported by the browser's KeyboardEvent.key.
type Key string

// Keys bound by the viewer.
const (
	KeyEscape     Key = "Escape"
	KeyArrowLeft  Key = "ArrowLeft"
	KeyArrowRight Key = "ArrowRight"
	KeySpace      Key = " "
)

// NormalizeKey folds the legacy and KeyboardEvent.code spellings of the
// bound keys onto the constants above.
func NormalizeKey(s string) Key {
	switch s {
	case "Esc":
		return KeyEscape
	case "Left":
		return KeyArrowLeft
	case "Right":
		return KeyArrowRight
	case "Space", "Spacebar":
		return KeySpace
	}
	return Key(s)
}

// HandleKey applies a key press. handled reports whether the key is bound
// in the current state; preventDefault is set for Space on a video so the
// page does not scroll. Keys are ignored once the viewer is closed.
func (v *Viewer) HandleKey(ctx context.Context, k Key) (handled, preventDefault bool) {
	if v.closed {
		return false, false
	}
	switch NormalizeKey(string(k)) {
	case KeyEscape:
		v.Close()
		return true, false
	case KeyArrowLeft:
		v.Previous()
		return true, false
	case KeyArrowRight:
		v.Next()
		return true, false
	case KeySpace:
		cur, _ := v.Current()
		if !cur.IsVideo() {
			return false, false
		}
		v.TogglePlay(ctx)
		return true, true
	}
	return false, false
}
