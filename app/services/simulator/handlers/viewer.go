package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/blocksim/blocksim/foundation/blockchain/database"
	"github.com/blocksim/blocksim/foundation/blockchain/orchestrator"
	"github.com/blocksim/blocksim/foundation/events"
	"github.com/blocksim/blocksim/foundation/nameservice"
	"github.com/dimfeld/httptreemux/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// viewerGroup holds the set of read-only simulation endpoints.
type viewerGroup struct {
	log  *zap.SugaredLogger
	orc  *orchestrator.Orchestrator
	ns   *nameservice.NameService
	evts *events.Events
	ws   websocket.Upgrader
}

// status returns the replica view of every node in the population.
func (vg *viewerGroup) status(w http.ResponseWriter, r *http.Request) {
	statuses := vg.orc.Status()

	resp := struct {
		RunID  string `json:"run_id"`
		Nodes  any    `json:"nodes"`
		Rounds int    `json:"rounds_completed"`
	}{
		RunID:  vg.orc.RunID(),
		Nodes:  statuses,
		Rounds: len(vg.orc.Results()),
	}

	respond(vg.log, w, http.StatusOK, resp)
}

// accounts returns the mapping of account addresses to node names.
func (vg *viewerGroup) accounts(w http.ResponseWriter, r *http.Request) {
	respond(vg.log, w, http.StatusOK, vg.ns.Copy())
}

// genesis returns the genesis document the run was seeded with.
func (vg *viewerGroup) genesis(w http.ResponseWriter, r *http.Request) {
	respond(vg.log, w, http.StatusOK, vg.orc.Genesis())
}

// results returns the per-round results recorded so far.
func (vg *viewerGroup) results(w http.ResponseWriter, r *http.Request) {
	respond(vg.log, w, http.StatusOK, vg.orc.Results())
}

// chain returns a copy of the named node's replica with proposer
// addresses resolved to node names.
func (vg *viewerGroup) chain(w http.ResponseWriter, r *http.Request) {
	name := httptreemux.ContextParams(r.Context())["name"]

	blocks, err := vg.orc.NodeChain(name)
	if err != nil {
		respond(vg.log, w, http.StatusNotFound, struct {
			Error string `json:"error"`
		}{err.Error()})
		return
	}

	type chainBlock struct {
		database.BlockData
		ProposerName string `json:"proposer_name"`
	}

	resp := make([]chainBlock, len(blocks))
	for i, data := range blocks {
		resp[i] = chainBlock{
			BlockData:    data,
			ProposerName: vg.ns.Lookup(data.Header.ProposerID),
		}
	}

	respond(vg.log, w, http.StatusOK, resp)
}

// events handles a web socket to provide the raw event stream to a
// client.
func (vg *viewerGroup) events(w http.ResponseWriter, r *http.Request) {
	vg.ws.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := vg.ws.Upgrade(w, r, nil)
	if err != nil {
		vg.log.Errorw("events", "ERROR", err)
		return
	}
	defer c.Close()

	id := uuid.NewString()
	ch := vg.evts.Acquire(id)
	defer vg.evts.Release(id)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

// respond marshals the value to the client as JSON.
func respond(log *zap.SugaredLogger, w http.ResponseWriter, statusCode int, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Errorw("respond", "ERROR", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(jsonData); err != nil {
		log.Errorw("respond", "ERROR", err)
	}
}
