// Package handler exposes the verification flow over HTTP: session start,
// the server-sent-events push stream, the polling fallback, and the wallet
// response endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"

	"eudi-verifier/internal/platform/middleware"
	"eudi-verifier/internal/transport/http/shared"
	"eudi-verifier/internal/verification/bridge"
	"eudi-verifier/internal/verification/models"
	"eudi-verifier/internal/verification/service"
	"eudi-verifier/internal/verification/validator"
	dErrors "eudi-verifier/pkg/domain-errors"
)

// Service is the verification session lifecycle as the transport sees it.
type Service interface {
	Start(ctx context.Context) (*service.StartResult, error)
	Poll(ctx context.Context, sessionID string) (*models.Session, error)
	Cancel(ctx context.Context, sessionID string) error
	ApplyOutcome(ctx context.Context, sessionID string, to models.State, userData map[string]any) (*models.Session, error)
	HandleWalletResponse(ctx context.Context, sessionID string, resp validator.Response) (*models.Session, error)
	Intrusions() map[string]validator.IntrusionEntry
}

// Subscriptions is the push side of the notification bridge.
type Subscriptions interface {
	Subscribe(ctx context.Context, sessionID string) (*bridge.Subscriber, error)
	Unsubscribe(sub *bridge.Subscriber)
}

// Handler handles the /verify endpoints.
type Handler struct {
	service Service
	events  Subscriptions
	logger  *slog.Logger
}

func New(svc Service, events Subscriptions, logger *slog.Logger) *Handler {
	return &Handler{service: svc, events: events, logger: logger}
}

// Register mounts the verification routes. The events stream stays outside
// the timeout group; it is long-lived by design.
func (h *Handler) Register(r chi.Router) {
	vr := chi.NewRouter()
	vr.Get("/events", h.handleEvents)

	vr.Group(func(g chi.Router) {
		g.Use(middleware.Timeout(30 * time.Second))
		g.Get("/poll", h.handlePoll)
		g.Get("/intrusions", h.handleIntrusions)
		// The wallet direct_post arrives form-encoded, so /response skips
		// the JSON content-type gate.
		g.Post("/response", h.handleWalletResponse)

		g.Group(func(j chi.Router) {
			j.Use(middleware.ContentTypeJSON)
			j.Post("/start", h.handleStart)
			j.Post("/callback", h.handleCallback)
			j.Post("/cancel", h.handleCancel)
		})
	})

	r.Mount("/verify", vr)
}

type startResponse struct {
	Success   bool      `json:"success"`
	SessionID string    `json:"session_id"`
	QRLink    string    `json:"qr_link"`
	QRPayload string    `json:"qr_payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := h.service.Start(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to start verification session",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to start verification session"))
		return
	}

	shared.WriteJSON(w, http.StatusOK, startResponse{
		Success:   true,
		SessionID: res.SessionID,
		QRLink:    res.RequestURI,
		QRPayload: res.QRPayload,
		ExpiresAt: res.ExpiresAt,
	})
}

type pollResponse struct {
	SessionID string         `json:"session_id"`
	State     models.State   `json:"state"`
	UserData  map[string]any `json:"userData,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "session_id is required"))
		return
	}

	session, err := h.service.Poll(ctx, sessionID)
	if err != nil {
		h.writeSessionError(ctx, w, err, "poll failed")
		return
	}

	shared.WriteJSON(w, http.StatusOK, pollResponse{
		SessionID: session.ID,
		State:     session.State,
		UserData:  session.UserData,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	})
}

// handleEvents streams session events as server-sent events. The stream ends
// after the terminal event, at session expiry, or on client disconnect.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "session_id is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	session, err := h.service.Poll(ctx, sessionID)
	if err != nil {
		h.writeSessionError(ctx, w, err, "subscribe failed")
		return
	}

	sub, err := h.events.Subscribe(ctx, sessionID)
	if err != nil {
		h.writeSessionError(ctx, w, err, "subscribe failed")
		return
	}
	defer h.events.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The stream never outlives the session record.
	deadline := time.NewTimer(time.Until(session.ExpiresAt))
	defer deadline.Stop()

	for {
		select {
		case evt, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeSSE(w, flusher, evt); err != nil {
				h.logger.WarnContext(ctx, "event stream write failed",
					"request_id", requestID,
					"session_id", sessionID,
					"error", err.Error(),
				)
				return
			}
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, evt bridge.Event) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

type callbackRequest struct {
	SessionID string         `json:"session_id"`
	State     string         `json:"state"`
	UserData  map[string]any `json:"user_data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// handleCallback applies a pre-validated outcome reported by a trusted
// backchannel. Wallet direct_post responses go through handleWalletResponse
// instead.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.SessionID == "" || req.State == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "session_id and state are required"))
		return
	}
	if !govalidator.IsIn(req.State, string(models.StateVerified), string(models.StateFailed)) {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "state must be verified or failed"))
		return
	}

	// Claims are only ever stored on a verified record.
	if req.State != string(models.StateVerified) {
		req.UserData = nil
	}

	session, err := h.service.ApplyOutcome(ctx, req.SessionID, models.State(req.State), req.UserData)
	if err != nil {
		h.logger.WarnContext(ctx, "callback rejected",
			"request_id", requestID,
			"session_id", req.SessionID,
			"error", err.Error(),
		)
		h.writeSessionError(ctx, w, err, "callback failed")
		return
	}

	if session.State == models.StateFailed {
		reason := req.Error
		if reason == "" {
			reason = "verification failed"
		}
		shared.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   reason,
		})
		return
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "verification processed",
	})
}

// handleWalletResponse accepts the wallet's direct_post. The body is
// form-encoded per OID4VP, with JSON tolerated for test harnesses. The
// OID4VP state parameter carries the session id.
func (h *Handler) handleWalletResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	sessionID, resp, err := decodeWalletResponse(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	session, err := h.service.HandleWalletResponse(ctx, sessionID, resp)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeInvalidInput) {
			// Validation failed: the session is now failed and the response
			// carries only the generic message.
			shared.WriteError(w, err)
			return
		}
		h.logger.WarnContext(ctx, "wallet response rejected",
			"request_id", requestID,
			"session_id", sessionID,
			"error", err.Error(),
		)
		h.writeSessionError(ctx, w, err, "wallet response failed")
		return
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"state":   session.State,
	})
}

func decodeWalletResponse(r *http.Request) (string, validator.Response, error) {
	var resp validator.Response
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "application/json") {
		var body struct {
			State                  string          `json:"state"`
			VPToken                string          `json:"vp_token"`
			PresentationSubmission json.RawMessage `json:"presentation_submission"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", resp, dErrors.New(dErrors.CodeBadRequest, "invalid request body")
		}
		if body.State == "" {
			return "", resp, dErrors.New(dErrors.CodeBadRequest, "state is required")
		}
		resp.VPToken = body.VPToken
		resp.PresentationSubmission = body.PresentationSubmission
		return body.State, resp, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", resp, dErrors.New(dErrors.CodeBadRequest, "invalid form body")
	}
	state := r.PostFormValue("state")
	if state == "" {
		return "", resp, dErrors.New(dErrors.CodeBadRequest, "state is required")
	}
	resp.VPToken = r.PostFormValue("vp_token")
	if submission := r.PostFormValue("presentation_submission"); submission != "" {
		resp.PresentationSubmission = json.RawMessage(submission)
	}
	return state, resp, nil
}

type cancelRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "session_id is required"))
		return
	}

	if err := h.service.Cancel(ctx, req.SessionID); err != nil {
		h.writeSessionError(ctx, w, err, "cancel failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type intrusionEntry struct {
	IssuerDID  string      `json:"issuer_did"`
	Count      int         `json:"count"`
	Timestamps []time.Time `json:"timestamps"`
}

func (h *Handler) handleIntrusions(w http.ResponseWriter, r *http.Request) {
	snapshot := h.service.Intrusions()
	entries := make([]intrusionEntry, 0, len(snapshot))
	for did, entry := range snapshot {
		entries = append(entries, intrusionEntry{
			IssuerDID:  did,
			Count:      entry.Count,
			Timestamps: entry.Timestamps,
		})
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"intrusions": entries})
}

// writeSessionError maps store errors onto the envelope. Expired and unknown
// sessions are indistinguishable, and backend detail is never surfaced.
func (h *Handler) writeSessionError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	var de *dErrors.Error
	if errors.As(err, &de) {
		shared.WriteError(w, de)
		return
	}
	h.logger.ErrorContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
	shared.WriteError(w, dErrors.New(dErrors.CodeInternal, msg))
}
