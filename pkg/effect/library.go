package effect

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrMissingCategory = errors.New("effect: category has no clips")

// Clip is one sound file. Duration is one pass through the file.
type Clip struct {
	Name     string
	Duration time.Duration
}

// Library maps every category to its clips. Loops is the number of extra
// repeats a category plays after the first pass.
type Library struct {
	Clips map[Category][]Clip
	Loops map[Category]int
}

// DefaultLibrary returns the stock MiP clip set with nominal durations, for
// peers started without an effects directory.
func DefaultLibrary() Library {
	return Library{
		Clips: map[Category][]Clip{
			Active: {
				{Name: "MiPDance_1.wav", Duration: 4 * time.Second},
				{Name: "MiPDance_2.wav", Duration: 5 * time.Second},
			},
			Idle: {
				{Name: "MiP_yapping2self.wav", Duration: 2500 * time.Millisecond},
				{Name: "MiP_hahahamip.wav", Duration: 1500 * time.Millisecond},
				{Name: "MiP_yippee.wav", Duration: 1 * time.Second},
				{Name: "MiP_mip1.wav", Duration: 600 * time.Millisecond},
				{Name: "MiP_mip3.wav", Duration: 900 * time.Millisecond},
			},
			Startup:  {{Name: "MiP_mipthenoh.wav", Duration: 2 * time.Second}},
			Shutdown: {{Name: "MiP_powerdown.wav", Duration: 2500 * time.Millisecond}},
			Sad: {
				{Name: "MiP_ohno.wav", Duration: 1200 * time.Millisecond},
				{Name: "MiP_aww.wav", Duration: 1500 * time.Millisecond},
			},
		},
		Loops: map[Category]int{Active: 2},
	}
}

// Validate reports the first category without clips.
func (l Library) Validate() error {
	for _, c := range Categories {
		if len(l.Clips[c]) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingCategory, c)
		}
	}
	return nil
}

// PlayTime is how long one Play of clip lasts in category c.
func (l Library) PlayTime(c Category, clip Clip) time.Duration {
	loops := l.Loops[c]
	if loops < 0 {
		loops = 0
	}
	return clip.Duration * time.Duration(1+loops)
}

// LoadLibrary resolves manifest against dir. Every listed file must exist.
// Clips without a configured duration are probed from their WAV header.
// Any error here is meant to abort startup.
func LoadLibrary(dir string, manifest map[Category][]Clip, loops map[Category]int) (Library, error) {
	lib := Library{
		Clips: make(map[Category][]Clip, len(Categories)),
		Loops: make(map[Category]int, len(loops)),
	}
	for c, n := range loops {
		lib.Loops[c] = n
	}

	for _, c := range Categories {
		for _, clip := range manifest[c] {
			path := clip.Name
			if dir != "" && !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
			info, err := os.Stat(path)
			if err != nil {
				return Library{}, fmt.Errorf("effect: load %s clip: %w", c, err)
			}
			if info.IsDir() {
				return Library{}, fmt.Errorf("effect: load %s clip: %s is a directory", c, path)
			}
			if clip.Duration <= 0 {
				if !strings.EqualFold(filepath.Ext(path), ".wav") {
					return Library{}, fmt.Errorf("effect: %s: no duration configured and not a .wav file", path)
				}
				d, err := ProbeWAVFile(path)
				if err != nil {
					return Library{}, err
				}
				clip.Duration = d
			}
			lib.Clips[c] = append(lib.Clips[c], Clip{Name: path, Duration: clip.Duration})
		}
	}

	if err := lib.Validate(); err != nil {
		return Library{}, err
	}
	return lib, nil
}
