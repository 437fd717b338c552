// Package debug exposes a running fleet of Centrals over HTTP: one JSON
// stats endpoint covering every registered class, plus net/http/pprof and
// golang.org/x/net/trace's live event log, the same pairing the
// teacher's own go.mod require block signals (pprof + x/net/trace
// mounted side by side on one mux).
package debug

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"sort"
	"sync"

	runtimepprof "runtime/pprof"

	"github.com/google/pprof/profile"
	"golang.org/x/net/trace"

	"github.com/flowstash/centralfree"
)

// Registry tracks the Centrals a process wants introspectable over
// HTTP, keyed by a caller-chosen name (typically the size class's
// label).
type Registry struct {
	mu       sync.Mutex
	centrals map[string]*centralfree.Central
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{centrals: make(map[string]*centralfree.Central)}
}

// Register adds c under name, overwriting any previous registration
// under the same name.
func (r *Registry) Register(name string, c *centralfree.Central) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.centrals[name] = c
}

// Snapshot returns every registered Central's Stats, keyed by name.
// The result is a map, so its iteration order is unspecified.
func (r *Registry) Snapshot() map[string]centralfree.Stats {
	r.mu.Lock()
	names := make([]string, 0, len(r.centrals))
	centrals := make(map[string]*centralfree.Central, len(r.centrals))
	for name, c := range r.centrals {
		names = append(names, name)
		centrals[name] = c
	}
	r.mu.Unlock()

	sort.Strings(names)
	out := make(map[string]centralfree.Stats, len(names))
	for _, name := range names {
		out[name] = centrals[name].Stats()
	}
	return out
}

// Handler returns an http.Handler serving:
//
//	/debug/centralfree/stats    -  JSON Stats for every registered Central
//	/debug/centralfree/profile  -  top allocating functions from the live
//	                               heap profile, aggregated with
//	                               github.com/google/pprof's data model
//	/debug/pprof/*              -  net/http/pprof's standard profile set
//	/debug/events               -  golang.org/x/net/trace's live event log UI
func (r *Registry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/centralfree/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/debug/centralfree/profile", serveTopAllocators)
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/events", func(w http.ResponseWriter, req *http.Request) {
		sensitive := req.FormValue("sensitive") == "true"
		trace.Render(w, req, sensitive)
	})
	return mux
}

// funcTotal is one row of serveTopAllocators' JSON response.
type funcTotal struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// topAllocators is how many functions serveTopAllocators reports.
const topAllocators = 20

// serveTopAllocators captures the process's live heap profile, parses
// it with github.com/google/pprof/profile, aggregates samples by
// function (keeping inlined frames but dropping file, line and address
// detail, so a function's allocations aren't split across its source
// lines), credits each sample to its leaf function, and reports the
// top allocators as
// JSON. It exercises the same parse/aggregate path a caller would use
// to post-process a captured profile (merge, filter, re-symbolize)
// rather than just reaching for net/http/pprof's raw capture.
func serveTopAllocators(w http.ResponseWriter, req *http.Request) {
	var buf bytes.Buffer
	if err := runtimepprof.Lookup("heap").WriteTo(&buf, 0); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	p, err := profile.Parse(&buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := p.Aggregate(true, true, false, false, false); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	totals := make(map[string]int64)
	for _, s := range p.Sample {
		if len(s.Value) == 0 || len(s.Location) == 0 || len(s.Location[0].Line) == 0 {
			continue
		}
		totals[s.Location[0].Line[0].Function.Name] += s.Value[0]
	}
	out := make([]funcTotal, 0, len(totals))
	for name, v := range totals {
		out = append(out, funcTotal{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	if len(out) > topAllocators {
		out = out[:topAllocators]
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
