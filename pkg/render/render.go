// Package render draws behavior frames. Terminal paints an ASCII MiP in
// place on a terminal; Headless only notes phase changes in the log.
package render

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/ryandielhenn/mipsync/pkg/behavior"
)

const (
	CanvasWidth  = 36
	CanvasHeight = 12

	// pixelsPerColumn converts the transform's pixel offset to columns.
	pixelsPerColumn = 5
)

var sprite = pad([]string{
	`   .-----.   `,
	`  / o   o \  `,
	` |   ___   | `,
	`  \_______/  `,
	`    |   |    `,
	`   /|___|\   `,
	`  / |   | \  `,
	`    |   |    `,
	`   (_) (_)   `,
})

var (
	spriteW = len(sprite[0])
	spriteH = len(sprite)
)

var phaseStyles = map[behavior.Phase]lipgloss.Style{
	behavior.PhaseIdle:         lipgloss.NewStyle().Foreground(lipgloss.Color("76")),
	behavior.PhaseActive:       lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true),
	behavior.PhaseCoolingDown:  lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
	behavior.PhaseShuttingDown: lipgloss.NewStyle().Foreground(lipgloss.Color("204")),
}

var statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

func pad(lines []string) []string {
	w := 0
	for _, l := range lines {
		w = max(w, len(l))
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + strings.Repeat(" ", w-len(l))
	}
	return out
}

// Compose lays the sprite out on a CanvasWidth x CanvasHeight grid with the
// frame's transform applied: nearest neighbour scaling about the center, a
// row shear standing in for rotation, and a column offset. Rows are joined
// with "\n" and carry no styling.
func Compose(f behavior.Frame) string {
	t := f.Transform
	if t.ScaleX <= 0 {
		t.ScaleX = 1
	}
	if t.ScaleY <= 0 {
		t.ScaleY = 1
	}
	cx, cy := float64(CanvasWidth)/2, float64(CanvasHeight)/2
	off := t.OffsetX / pixelsPerColumn
	shear := math.Tan(t.Rotation * math.Pi / 180)

	var b strings.Builder
	b.Grow((CanvasWidth + 1) * CanvasHeight)
	for y := range CanvasHeight {
		if y > 0 {
			b.WriteByte('\n')
		}
		ry := float64(y) + 0.5 - cy
		sy := int(math.Floor(ry/t.ScaleY + float64(spriteH)/2))
		for x := range CanvasWidth {
			rx := float64(x) + 0.5 - cx - off - shear*ry
			sx := int(math.Floor(rx/t.ScaleX + float64(spriteW)/2))
			if sy < 0 || sy >= spriteH || sx < 0 || sx >= spriteW {
				b.WriteByte(' ')
				continue
			}
			b.WriteByte(sprite[sy][sx])
		}
	}
	return b.String()
}

// Terminal repaints in place with the cursor homed. Writes only happen when
// the composed picture or status line changed since the last frame.
type Terminal struct {
	mu    sync.Mutex
	w     io.Writer
	label string
	last  string
	log   *zap.SugaredLogger
}

func NewTerminal(w io.Writer, label string, log *zap.SugaredLogger) *Terminal {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Terminal{w: w, label: label, log: log}
}

func (t *Terminal) Render(f behavior.Frame) {
	art := Compose(f)
	status := fmt.Sprintf("%s  %s  [space] dance  [q] quit", t.label, f.Phase)
	key := art + "\x00" + status

	t.mu.Lock()
	defer t.mu.Unlock()
	if key == t.last {
		return
	}
	first := t.last == ""
	t.last = key

	style, ok := phaseStyles[f.Phase]
	if !ok {
		style = lipgloss.NewStyle()
	}

	var b strings.Builder
	if first {
		b.WriteString("\x1b[2J")
	}
	b.WriteString("\x1b[H")
	// Raw mode disables the newline translation, so rows end in CRLF.
	b.WriteString(strings.ReplaceAll(style.Render(art), "\n", "\r\n"))
	b.WriteString("\r\n")
	b.WriteString(statusStyle.Render(status))
	b.WriteString("\x1b[K\r\n")

	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.log.Debugw("Render write failed", "err", err)
	}
}

// Headless renders nothing and logs phase changes.
type Headless struct {
	mu   sync.Mutex
	last behavior.Phase
	log  *zap.SugaredLogger
}

func NewHeadless(log *zap.SugaredLogger) *Headless {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Headless{log: log}
}

func (h *Headless) Render(f behavior.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f.Phase == h.last {
		return
	}
	h.log.Debugw("Frame", "phase", f.Phase, "previous", h.last)
	h.last = f.Phase
}
