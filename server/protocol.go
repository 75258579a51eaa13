package server

import (
	"context"
	"errors"

	"github.com/cocomeza/alcontruccionessrl/gallery"
)

// ErrUnknownMessageType is returned by Deserialise for unknown types.
var ErrUnknownMessageType = errors.New("unknown message type")

// PlayerOp is the enum for commands sent to the browser's video element
type PlayerOp string

// PlayerOp enum instances
const (
	PlayerOpLoad   PlayerOp = "load"
	PlayerOpPlay   PlayerOp = "play"
	PlayerOpPause  PlayerOp = "pause"
	PlayerOpSeek   PlayerOp = "seek"
	PlayerOpVolume PlayerOp = "volume"
	PlayerOpRate   PlayerOp = "rate"
	PlayerOpUnload PlayerOp = "unload"
)

// MediaEvent is the enum for element events reported by the browser
type MediaEvent string

// MediaEvent enum instances
const (
	MediaEventTimeUpdate     MediaEvent = "timeupdate"
	MediaEventLoadedMetadata MediaEvent = "loadedmetadata"
	MediaEventEnded          MediaEvent = "ended"
	MediaEventError          MediaEvent = "error"
	MediaEventPlayRejected   MediaEvent = "playrejected"
)

// remotePlayer implements gallery.Player by sending commands to the
// session's browser. Commands never fail synchronously; a refused play
// comes back later as MediaEventPlayRejected.
type remotePlayer struct {
	send func(*Message)
}

func (p *remotePlayer) command(op PlayerOp, url string, v float64) error {
	p.send(&Message{
		Type:    MessageTypePlayer,
		Payload: &PlayerMessage{Op: op, URL: url, Value: v},
	})
	return nil
}

func (p *remotePlayer) Load(item gallery.MediaItem) error {
	return p.command(PlayerOpLoad, item.URL, 0)
}

func (p *remotePlayer) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.command(PlayerOpPlay, "", 0)
}

func (p *remotePlayer) Pause() error              { return p.command(PlayerOpPause, "", 0) }
func (p *remotePlayer) Seek(s float64) error      { return p.command(PlayerOpSeek, "", s) }
func (p *remotePlayer) SetVolume(v float64) error { return p.command(PlayerOpVolume, "", v) }
func (p *remotePlayer) SetRate(r float64) error   { return p.command(PlayerOpRate, "", r) }
func (p *remotePlayer) Unload() error             { return p.command(PlayerOpUnload, "", 0) }
