package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/0x5487/darkpool"
	"github.com/0x5487/darkpool/protocol"
)

const (
	maxCommandSize = 64 << 10
	requestTimeout = 15 * time.Second
)

// api serves dark pool commands and read-only queries over HTTP.
//
//	POST /v1/commands           protocol.Command envelope, answered with the operation result
//	GET  /v1/stats              ledger counters and the event-derived view
//	GET  /v1/orders/{id}
//	GET  /v1/requests/{id}
//	GET  /v1/executions/{id}
type api struct {
	pool       *darkpool.DarkPool
	view       *darkpool.PoolView
	serializer protocol.Serializer
}

func newAPI(pool *darkpool.DarkPool, view *darkpool.PoolView) http.Handler {
	a := &api{pool: pool, view: view, serializer: protocol.DefaultJSONSerializer{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/commands", a.handleCommand)
	mux.HandleFunc("GET /v1/stats", a.handleStats)
	mux.HandleFunc("GET /v1/orders/{id}", a.lookup(func(id string) (any, error) { return a.pool.Order(id) }))
	mux.HandleFunc("GET /v1/requests/{id}", a.lookup(func(id string) (any, error) { return a.pool.MatchingRequest(id) }))
	mux.HandleFunc("GET /v1/executions/{id}", a.lookup(func(id string) (any, error) { return a.pool.TradeExecution(id) }))
	return mux
}

type statsResponse struct {
	Ledger *darkpool.Stats `json:"ledger"`
	Events *darkpool.Stats `json:"events"`
	Fees   uint64          `json:"fees"`
	SeqID  uint64          `json:"seq_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *api) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandSize))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
		return
	}

	var cmd protocol.Command
	if err := a.serializer.Unmarshal(body, &cmd); err != nil {
		writeError(w, darkpool.ErrInvalidParam)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := a.pool.ExecuteCommand(ctx, a.serializer, &cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *api) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.pool.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Ledger: stats,
		Events: a.view.Stats(),
		Fees:   a.view.Fees(),
		SeqID:  a.view.SequenceID(),
	})
}

func (a *api) lookup(get func(id string) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := get(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

// statusCode maps a dark pool error to the HTTP status of its class.
func statusCode(err error) int {
	switch {
	case errors.Is(err, darkpool.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, darkpool.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, darkpool.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, darkpool.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, darkpool.ErrComputeUnavailable), errors.Is(err, darkpool.ErrShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, darkpool.ErrComputation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, darkpool.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusCode(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
