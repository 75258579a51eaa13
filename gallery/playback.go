package gallery

import (
	"context"
	"fmt"
	"log"
)

// Player is the handle of a single playable element. Implementations live
// on the rendering side (a browser <video> driven over a websocket, a test
// fake, ...); the viewer only ever talks to this interface.
type Player interface {
	Load(item MediaItem) error
	Play(ctx context.Context) error
	Pause() error
	Seek(seconds float64) error
	SetVolume(v float64) error
	SetRate(r float64) error
	Unload() error
}

// MediaError is reported through OnError when an item fails to load or decode.
type MediaError struct {
	Index int
	URL   string
	Err   error
}

func (e MediaError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media %d (%s) failed", e.Index, e.URL)
	}
	return fmt.Sprintf("media %d (%s) failed: %v", e.Index, e.URL, e.Err)
}

func (e MediaError) Unwrap() error { return e.Err }

type nopPlayer struct{}

func (nopPlayer) Load(MediaItem) error       { return nil }
func (nopPlayer) Play(context.Context) error { return nil }
func (nopPlayer) Pause() error               { return nil }
func (nopPlayer) Seek(float64) error         { return nil }
func (nopPlayer) SetVolume(float64) error    { return nil }
func (nopPlayer) SetRate(float64) error      { return nil }
func (nopPlayer) Unload() error              { return nil }

// Playback wraps one Player and tracks the status of the video currently
// attached to it, NOT thread-safe
type Playback struct {
	player   Player
	item     MediaItem
	attached bool
	playing  bool
	position float64
	duration float64
	volume   float64
	rate     float64

	onPlay  func()
	onPause func()
}

// NewPlayback creates an adapter around p. A nil p is replaced by a player
// that accepts every call.
func NewPlayback(p Player, onPlay, onPause func()) *Playback {
	if p == nil {
		p = nopPlayer{}
	}
	return &Playback{
		player:  p,
		volume:  1.0,
		rate:    1.0,
		onPlay:  onPlay,
		onPause: onPause,
	}
}

// Attached reports whether a video element is currently hot.
func (p *Playback) Attached() bool { return p.attached }

// Playing reports the play status of the attached video.
func (p *Playback) Playing() bool { return p.playing }

// Position is the last reported currentTime of the attached video in seconds.
func (p *Playback) Position() float64 { return p.position }

// Duration is the last reported duration of the attached video in seconds.
func (p *Playback) Duration() float64 { return p.duration }

// Volume returns the volume applied to newly attached videos.
func (p *Playback) Volume() float64 { return p.volume }

// Rate returns the playback rate applied to newly attached videos.
func (p *Playback) Rate() float64 { return p.rate }

// Swap pauses, rewinds and unloads the outgoing element before attaching
// item. Images are never attached. Status fields are reset in any case.
func (p *Playback) Swap(item MediaItem) error {
	p.Detach()
	if !item.IsVideo() {
		return nil
	}
	if err := p.player.Load(item); err != nil {
		return err
	}
	p.item = item
	p.attached = true
	if p.volume != 1.0 {
		p.logErr("set volume", p.player.SetVolume(p.volume))
	}
	if p.rate != 1.0 {
		p.logErr("set rate", p.player.SetRate(p.rate))
	}
	return nil
}

// Detach stops the attached element and rewinds it to 0 so that a later
// return does not resume mid-playback.
func (p *Playback) Detach() {
	if p.attached {
		p.logErr("pause", p.player.Pause())
		p.logErr("seek", p.player.Seek(0))
		p.logErr("unload", p.player.Unload())
	}
	p.attached = false
	p.item = MediaItem{}
	p.playing = false
	p.position = 0
	p.duration = 0
}

// TogglePlay plays a paused video or pauses a playing one. A failing play
// call is logged and leaves the status paused.
func (p *Playback) TogglePlay(ctx context.Context) {
	if !p.attached {
		return
	}
	if p.playing {
		p.Pause()
		return
	}
	if err := p.player.Play(ctx); err != nil {
		log.Printf("play of %s rejected: %v", p.item.URL, err)
		p.playing = false
		return
	}
	p.playing = true
	if p.onPlay != nil {
		p.onPlay()
	}
}

// Pause pauses the attached video.
func (p *Playback) Pause() {
	if !p.attached {
		return
	}
	p.logErr("pause", p.player.Pause())
	p.playing = false
	if p.onPause != nil {
		p.onPause()
	}
}

// PlayRejected reconciles the status after the environment refused a play
// call that had already been reported as started.
func (p *Playback) PlayRejected() {
	if p.playing {
		log.Printf("play of %s rejected by client", p.item.URL)
	}
	p.playing = false
}

// TimeUpdate mirrors the element's timeupdate event.
func (p *Playback) TimeUpdate(seconds float64) {
	if p.attached && seconds >= 0 {
		p.position = seconds
	}
}

// LoadedMetadata mirrors the element's loadedmetadata event.
func (p *Playback) LoadedMetadata(duration float64) {
	if p.attached && duration >= 0 {
		p.duration = duration
	}
}

// Ended mirrors the element's ended event.
func (p *Playback) Ended() {
	if p.attached {
		p.playing = false
	}
}

// Seek moves the attached video to seconds, clamped to [0, duration] when
// the duration is known.
func (p *Playback) Seek(seconds float64) error {
	if !p.attached {
		return nil
	}
	if seconds < 0 {
		seconds = 0
	}
	if p.duration > 0 && seconds > p.duration {
		seconds = p.duration
	}
	if err := p.player.Seek(seconds); err != nil {
		return err
	}
	p.position = seconds
	return nil
}

// SetVolume clamps v into [0, 1].
func (p *Playback) SetVolume(v float64) error {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.volume = v
	if !p.attached {
		return nil
	}
	return p.player.SetVolume(v)
}

// SetRate changes the playback rate. Non-positive rates are rejected
// with an error and leave the rate unchanged.
func (p *Playback) SetRate(r float64) error {
	if r <= 0 {
		return fmt.Errorf("invalid playback rate %v", r)
	}
	p.rate = r
	if !p.attached {
		return nil
	}
	return p.player.SetRate(r)
}

func (p *Playback) logErr(op string, err error) {
	if err != nil {
		log.Printf("player %s on %s: %v", op, p.item.URL, err)
	}
}
