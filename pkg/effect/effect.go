// Package effect models audio effect playback for the behavior machine.
//
// The machine only needs to start a clip by category and later ask whether
// it is still playing. Player answers that on an injected clock from the
// clip durations in a Library, which keeps the behavior deterministic under
// test and lets headless peers run without an audio device.
package effect

import "fmt"

type Category string

const (
	Idle     Category = "idle"
	Active   Category = "active"
	Startup  Category = "startup"
	Shutdown Category = "shutdown"
	Sad      Category = "sad"
)

// Categories lists every category a Library must provide.
var Categories = []Category{Idle, Active, Startup, Shutdown, Sad}

func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("effect: unknown category %q", s)
}

// Playback is a handle on one started clip.
type Playback interface {
	Playing() bool
	Stop()
}

type nopPlayback struct{}

func (nopPlayback) Playing() bool { return false }
func (nopPlayback) Stop()         {}

// Nop is a Playback that has already finished.
var Nop Playback = nopPlayback{}
