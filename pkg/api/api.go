// Package api exposes the request/response surface: message history, sends,
// read receipts and the conversation list, all behind bearer auth.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/avelar/jobchat/pkg/auth"
	"github.com/avelar/jobchat/pkg/authz"
	"github.com/avelar/jobchat/pkg/dispatch"
	"github.com/avelar/jobchat/pkg/logging"
	"github.com/avelar/jobchat/pkg/metrics"
	"github.com/avelar/jobchat/pkg/model"
	"github.com/avelar/jobchat/pkg/presence"
	"github.com/avelar/jobchat/pkg/readstate"
	"github.com/avelar/jobchat/pkg/store"
)

type Handler struct {
	issuer     *auth.Issuer
	access     *authz.Authorizer
	store      store.Store
	dispatcher *dispatch.Dispatcher
	tracker    *readstate.Tracker
	presence   *presence.Broadcaster
	log        zerolog.Logger
}

func NewHandler(issuer *auth.Issuer, access *authz.Authorizer, st store.Store,
	dispatcher *dispatch.Dispatcher, tracker *readstate.Tracker, pres *presence.Broadcaster) *Handler {
	return &Handler{
		issuer:     issuer,
		access:     access,
		store:      st,
		dispatcher: dispatcher,
		tracker:    tracker,
		presence:   pres,
		log:        logging.Component("api"),
	}
}

// Router assembles the full HTTP surface. realtime is the websocket
// endpoint handler; it runs its own handshake, so it sits outside the
// bearer middleware.
func (h *Handler) Router(realtime http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/login", h.login)
	if realtime != nil {
		r.Handle("/ws", realtime)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.issuer.Middleware)
		r.Get("/jobs/{jobID}/messages", h.history)
		r.Post("/jobs/{jobID}/messages", h.send)
		r.Post("/messages/read", h.markRead)
		r.Get("/conversations", h.conversations)
		r.Get("/presence/professionals", h.onlineProfessionals)
	})

	return r
}

type loginRequest struct {
	UserID string     `json:"userId"`
	Role   model.Role `json:"role"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// login mints a development token. The marketplace's auth service issues
// production credentials; this endpoint exists for local runs and the CLI
// client.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	if !req.Role.Valid() {
		http.Error(w, "role must be client or professional", http.StatusBadRequest)
		return
	}

	token, err := h.issuer.Issue(req.UserID, req.Role)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	jobID := chi.URLParam(r, "jobID")

	if err := h.access.CanAccess(r.Context(), claims.UserID, jobID); err != nil {
		h.writeError(w, err)
		return
	}

	limit, offset := pageParams(r)
	msgs, err := h.store.History(r.Context(), jobID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendRequest struct {
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"messageType,omitempty"`
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	jobID := chi.URLParam(r, "jobID")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, err := h.dispatcher.Send(r.Context(), claims.UserID, jobID, req.Content, req.MessageType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type markReadRequest struct {
	MessageIDs []int64 `json:"messageIds"`
}

type markReadResponse struct {
	Marked int `json:"marked"`
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	marked, err := h.tracker.MarkRead(r.Context(), req.MessageIDs, claims.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{Marked: marked})
}

func (h *Handler) conversations(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit, offset := pageParams(r)
	convs, err := h.store.Conversations(r.Context(), claims.UserID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *Handler) onlineProfessionals(w http.ResponseWriter, r *http.Request) {
	ids, err := h.presence.OnlineProfessionals(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := dispatch.Code(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispatch.ErrInvalidContent):
		status = http.StatusBadRequest
	case errors.Is(err, authz.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dispatch.ErrNoRecipient):
		status = http.StatusConflict
	default:
		h.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
