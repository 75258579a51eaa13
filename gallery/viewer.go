package gallery

import "context"

// Options configures a Viewer. Images and Videos are read once to build the
// timeline; the viewer never writes to them.
type Options struct {
	Images       []string
	Videos       []string
	InitialIndex int
	InitialKind  MediaKind
	Player       Player

	OnClose func()
	OnError func(MediaError)
	OnPlay  func()
	OnPause func()
}

// State describes the viewer's position and the status of the active item.
type State struct {
	Index       int     `json:"index"`
	Playing     bool    `json:"playing"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Closed      bool    `json:"closed"`
}

// Viewer presents one item at a time from a timeline of images followed by
// videos and moves through it cyclically, NOT thread-safe
type Viewer struct {
	timeline []MediaItem
	nImages  int
	index    int
	closed   bool
	failed   map[int]bool
	playback *Playback

	onClose func()
	onError func(MediaError)
}

// New opens a viewer. With no images and no videos the viewer stays empty:
// it renders nothing and ignores every operation.
func New(opts Options) *Viewer {
	v := &Viewer{
		timeline: BuildTimeline(opts.Images, opts.Videos),
		nImages:  len(opts.Images),
		failed:   make(map[int]bool),
		playback: NewPlayback(opts.Player, opts.OnPlay, opts.OnPause),
		onClose:  opts.OnClose,
		onError:  opts.OnError,
	}
	if v.Empty() {
		v.closed = true
		return v
	}
	v.index = ResolveIndex(v.nImages, len(v.timeline), opts.InitialIndex, opts.InitialKind)
	v.activate(v.index)
	return v
}

// Empty reports whether the timeline has no items.
func (v *Viewer) Empty() bool { return len(v.timeline) == 0 }

// Len returns the timeline length.
func (v *Viewer) Len() int { return len(v.timeline) }

// Closed reports whether the viewer was closed, or never opened because it is empty.
func (v *Viewer) Closed() bool { return v.closed }

// Index returns the active position.
func (v *Viewer) Index() int { return v.index }

// Timeline returns a copy of the timeline.
func (v *Viewer) Timeline() []MediaItem {
	tl := make([]MediaItem, len(v.timeline))
	copy(tl, v.timeline)
	return tl
}

// Current returns the active item; ok is false for an empty viewer.
func (v *Viewer) Current() (MediaItem, bool) {
	if v.Empty() {
		return MediaItem{}, false
	}
	return v.timeline[v.index], true
}

// Playback exposes the video adapter so element events can be forwarded.
func (v *Viewer) Playback() *Playback { return v.playback }

// State returns a snapshot of the viewer state.
func (v *Viewer) State() State {
	return State{
		Index:       v.index,
		Playing:     v.playback.Playing(),
		CurrentTime: v.playback.Position(),
		Duration:    v.playback.Duration(),
		Closed:      v.closed,
	}
}

// Next moves forward, wrapping from the last item to the first.
func (v *Viewer) Next() {
	if !v.navigable() {
		return
	}
	n := len(v.timeline)
	v.activate((v.index + 1) % n)
}

// Previous moves backward, wrapping from the first item to the last.
func (v *Viewer) Previous() {
	if !v.navigable() {
		return
	}
	n := len(v.timeline)
	v.activate((v.index - 1 + n) % n)
}

// JumpTo activates position k. Out of range positions are ignored.
func (v *Viewer) JumpTo(k int) {
	if !v.navigable() || k < 0 || k >= len(v.timeline) {
		return
	}
	v.activate(k)
}

// Reopen recomputes the active position the same way New does and resets
// the play status. A closed viewer is opened again.
func (v *Viewer) Reopen(initialIndex int, kind MediaKind) {
	if v.Empty() {
		return
	}
	v.closed = false
	v.activate(ResolveIndex(v.nImages, len(v.timeline), initialIndex, kind))
}

// TogglePlay plays or pauses the active item when it is a video.
func (v *Viewer) TogglePlay(ctx context.Context) {
	if v.closed {
		return
	}
	if cur, ok := v.Current(); ok && cur.IsVideo() {
		v.playback.TogglePlay(ctx)
	}
}

// Close stops playback and fires OnClose once. Closing an empty or already
// closed viewer does nothing.
func (v *Viewer) Close() {
	if v.closed {
		return
	}
	v.playback.Detach()
	v.closed = true
	if v.onClose != nil {
		v.onClose()
	}
}

// MediaFailed records a load/decode failure of item index and reports it
// through OnError the first time. Navigation is not affected.
func (v *Viewer) MediaFailed(index int, err error) {
	if index < 0 || index >= len(v.timeline) || v.failed[index] {
		return
	}
	v.failed[index] = true
	if index == v.index && v.timeline[index].IsVideo() {
		v.playback.Ended()
	}
	if v.onError != nil {
		v.onError(MediaError{Index: index, URL: v.timeline[index].URL, Err: err})
	}
}

// Failed reports whether item index failed to load.
func (v *Viewer) Failed(index int) bool { return v.failed[index] }

func (v *Viewer) navigable() bool {
	return !v.closed && len(v.timeline) > 1
}

// activate swaps the player to position k; time, duration and play status
// are reset before control returns to the caller.
func (v *Viewer) activate(k int) {
	v.index = k
	if err := v.playback.Swap(v.timeline[k]); err != nil {
		v.MediaFailed(k, err)
	}
}
