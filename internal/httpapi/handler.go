package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ajha-96/markdoc/internal/document"
	"github.com/ajha-96/markdoc/internal/observability"
	"github.com/ajha-96/markdoc/internal/ot"
	"github.com/ajha-96/markdoc/internal/presence"
)

// Handler exposes document state and persistence controls over REST and
// mounts the websocket gateway on the same router.
type Handler struct {
	docs    *document.Registry
	gateway http.Handler
	health  func(context.Context) error
	logger  zerolog.Logger
}

// NewHandler builds the HTTP surface. gateway and health may be nil: the
// websocket route is skipped and /healthz always reports ok.
func NewHandler(docs *document.Registry, gateway http.Handler, health func(context.Context) error, logger zerolog.Logger) *Handler {
	return &Handler{
		docs:    docs,
		gateway: gateway,
		health:  health,
		logger:  logger.With().Str("component", "httpapi").Logger(),
	}
}

// Router wires the routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/documents/{id}", h.handleGetState).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/save", h.handleSave).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/sync", h.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	if h.gateway != nil {
		r.Handle("/ws/{id}", h.gateway).Methods(http.MethodGet)
	}
	return r
}

type stateResponse struct {
	Document string             `json:"document"`
	Content  string             `json:"content"`
	Version  int64              `json:"version"`
	Users    []presence.Session `json:"users"`
}

type saveResponse struct {
	Document string    `json:"document"`
	Version  int64     `json:"version"`
	SavedAt  time.Time `json:"savedAt"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx, span := tracer.Start(r.Context(), "httpapi.get_state")
	defer span.End()

	state, err := h.docs.GetState(ctx, id)
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, stateResponse{
		Document: id,
		Content:  state.Content,
		Version:  state.Version,
		Users:    state.Users,
	})
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx, span := tracer.Start(r.Context(), "httpapi.save")
	defer span.End()

	version, err := h.docs.SaveNow(ctx, id)
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, saveResponse{
		Document: id,
		Version:  version,
		SavedAt:  time.Now().UTC(),
	})
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx, span := tracer.Start(r.Context(), "httpapi.sync")
	defer span.End()

	state, err := h.docs.SyncFromDisk(ctx, id)
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, stateResponse{
		Document: id,
		Content:  state.Content,
		Version:  state.Version,
		Users:    state.Users,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.health(ctx); err != nil {
			h.logger.Error().Err(err).Msg("healthcheck failed")
			h.writeJSON(w, r, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Code: "unhealthy"})
			return
		}
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ot.ErrInvalidOperation):
		return http.StatusBadRequest, "invalid_operation"
	case errors.Is(err, ot.ErrPositionOutOfBounds):
		return http.StatusConflict, "position_out_of_bounds"
	case errors.Is(err, document.ErrNotFound):
		return http.StatusNotFound, "document_not_found"
	case errors.Is(err, document.ErrStorageFailure):
		return http.StatusBadGateway, "storage_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, documentID string, err error) {
	status, code := statusFor(err)
	logger := observability.LoggerWithTrace(r.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("document", documentID).Str("path", r.URL.Path).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str("document", documentID).Str("path", r.URL.Path).Msg("request rejected")
	}
	h.writeJSON(w, r, status, errorResponse{Error: err.Error(), Code: code})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	requestsTotal.WithLabelValues(r.Method, http.StatusText(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("encode response failed")
	}
}
