package peer

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/mipsync/internal/telemetry"
)

// Healthz returns 200 OK while the process is up.
func (p *Peer) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes the identity, phase and pending trigger flags as JSON.
func (p *Peer) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		Identity       string    `json:"identity"`
		Phase          string    `json:"phase"`
		PID            int       `json:"pid"`
		Uptime         string    `json:"uptime"`
		Now            time.Time `json:"now"`
		PendingDance   bool      `json:"pending_dance"`
		PendingRetire  bool      `json:"pending_retire"`
		LastDanceEnded time.Time `json:"last_dance_ended,omitzero"`
	}
	activate, retire := p.triggers.Pending()
	data, _ := json.Marshal(resp{
		Identity:       string(p.id),
		Phase:          string(p.Phase()),
		PID:            os.Getpid(),
		Uptime:         telemetry.Uptime().Round(time.Second).String(),
		Now:            p.clk.Now(),
		PendingDance:   activate,
		PendingRetire:  retire,
		LastDanceEnded: p.machine.LastActiveEnd(),
	})
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Activate requests a dance, the same as pressing space.
func (p *Peer) Activate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p.RequestActivate()
	w.WriteHeader(http.StatusAccepted)
}

// Mux wires the status endpoints, each instrumented under its own op label.
func (p *Peer) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(p.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(p.Info)))
	mux.Handle("/activate", telemetry.Instrument("activate", http.HandlerFunc(p.Activate)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}
