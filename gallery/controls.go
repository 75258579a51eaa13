package gallery

import (
	"fmt"
	"math"
	"time"
)

// ControlsHideDelay is how long the desktop video overlay stays visible
// after the last pointer movement while a video plays.
const ControlsHideDelay = 3 * time.Second

// Thumb is one entry of the thumbnail strip.
type Thumb struct {
	Index  int       `json:"index"`
	Item   MediaItem `json:"item"`
	Active bool      `json:"active"`
	Failed bool      `json:"failed"`
}

// ControlsView is the render model of the viewer chrome. Visible is false
// for an empty viewer, in which case nothing else is populated.
type ControlsView struct {
	Visible       bool      `json:"visible"`
	ShowNav       bool      `json:"showNav"`
	ShowThumbs    bool      `json:"showThumbs"`
	ShowIndicator bool      `json:"showIndicator"`
	Position      int       `json:"position"`
	Total         int       `json:"total"`
	Current       MediaItem `json:"current"`
	CurrentFailed bool      `json:"currentFailed"`
	IsVideo       bool      `json:"isVideo"`
	Playing       bool      `json:"playing"`
	TimeLabel     string    `json:"timeLabel"`
	DurationLabel string    `json:"durationLabel"`
	Volume        float64   `json:"volume"`
	Rate          float64   `json:"rate"`
	Thumbs        []Thumb   `json:"thumbs,omitempty"`
}

// Controls renders the current state. Previous/next, the thumbnail strip
// and the position indicator only exist with more than one item.
func (v *Viewer) Controls() ControlsView {
	if v.Empty() {
		return ControlsView{}
	}
	n := len(v.timeline)
	cur := v.timeline[v.index]
	cv := ControlsView{
		Visible:       true,
		ShowNav:       n > 1,
		ShowThumbs:    n > 1,
		ShowIndicator: n > 1,
		Position:      v.index + 1,
		Total:         n,
		Current:       cur,
		CurrentFailed: v.failed[v.index],
		IsVideo:       cur.IsVideo(),
		Playing:       v.playback.Playing(),
		TimeLabel:     FormatTime(v.playback.Position()),
		DurationLabel: FormatTime(v.playback.Duration()),
		Volume:        v.playback.Volume(),
		Rate:          v.playback.Rate(),
	}
	if cv.ShowThumbs {
		cv.Thumbs = make([]Thumb, n)
		for i, it := range v.timeline {
			cv.Thumbs[i] = Thumb{Index: i, Item: it, Active: i == v.index, Failed: v.failed[i]}
		}
	}
	return cv
}

// FormatTime renders seconds as m:ss.
func FormatTime(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
