// Package handlers manages the viewer and debug endpoints for the
// simulator service.
package handlers

import (
	"expvar"
	"net/http"
	"net/http/pprof"

	"github.com/blocksim/blocksim/foundation/blockchain/orchestrator"
	"github.com/blocksim/blocksim/foundation/events"
	"github.com/blocksim/blocksim/foundation/nameservice"
	"github.com/dimfeld/httptreemux/v5"
	"go.uber.org/zap"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Log  *zap.SugaredLogger
	Orc  *orchestrator.Orchestrator
	NS   *nameservice.NameService
	Evts *events.Events
}

// PublicMux constructs an http.Handler with all viewer routes defined.
func PublicMux(cfg MuxConfig) http.Handler {
	mux := httptreemux.NewContextMux()

	vg := viewerGroup{
		log:  cfg.Log,
		orc:  cfg.Orc,
		ns:   cfg.NS,
		evts: cfg.Evts,
	}

	mux.Handle(http.MethodGet, "/v1/status", vg.status)
	mux.Handle(http.MethodGet, "/v1/accounts", vg.accounts)
	mux.Handle(http.MethodGet, "/v1/genesis", vg.genesis)
	mux.Handle(http.MethodGet, "/v1/results", vg.results)
	mux.Handle(http.MethodGet, "/v1/node/:name/chain", vg.chain)
	mux.Handle(http.MethodGet, "/v1/events", vg.events)

	return mux
}

// DebugMux registers all the debug standard library routes and then the
// service check routes. This bypasses the use of the DefaultServerMux
// since a dependency could inject a handler into it without us knowing.
func DebugMux(build string, log *zap.SugaredLogger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())

	mux.HandleFunc("/debug/liveness", func(w http.ResponseWriter, r *http.Request) {
		respond(log, w, http.StatusOK, struct {
			Status string `json:"status"`
			Build  string `json:"build"`
		}{"up", build})
	})

	return mux
}
