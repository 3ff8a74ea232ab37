// Package service orchestrates the verification-session flow: issuing
// authorization requests, applying wallet outcomes to the session record,
// and fanning terminal events out to push subscribers and side channels.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"eudi-verifier/internal/platform/middleware"
	"eudi-verifier/internal/verification/bridge"
	"eudi-verifier/internal/verification/metrics"
	"eudi-verifier/internal/verification/models"
	"eudi-verifier/internal/verification/request"
	"eudi-verifier/internal/verification/store"
	"eudi-verifier/internal/verification/validator"
	"eudi-verifier/pkg/audit"
	dErrors "eudi-verifier/pkg/domain-errors"
	"eudi-verifier/pkg/notify"
)

var tracer = otel.Tracer("eudi-verifier/internal/verification/service")

// genericFailureMessage is the only failure detail pushed to subscribers.
// Validator specifics stay in logs and the audit trail so a probing wallet
// learns nothing about which check tripped.
const genericFailureMessage = "verification failed"

// StartResult is returned to the relying party when a session begins.
type StartResult struct {
	SessionID  string
	RequestURI string
	QRPayload  string
	ExpiresAt  time.Time
}

// Service wires the request builder, session store, event bridge, and
// response validator into the session lifecycle.
type Service struct {
	builder   *request.Builder
	store     store.Store
	bridge    *bridge.Bridge
	validator *validator.Validator
	metrics   *metrics.Metrics
	auditor   *audit.Publisher
	notifier  *notify.Notifier
	logger    *slog.Logger

	requestedClaims []string
	sessionTTL      time.Duration

	now func() time.Time
}

func New(
	builder *request.Builder,
	sessions store.Store,
	events *bridge.Bridge,
	vld *validator.Validator,
	m *metrics.Metrics,
	auditor *audit.Publisher,
	notifier *notify.Notifier,
	logger *slog.Logger,
	requestedClaims []string,
	sessionTTL time.Duration,
) *Service {
	return &Service{
		builder:         builder,
		store:           sessions,
		bridge:          events,
		validator:       vld,
		metrics:         m,
		auditor:         auditor,
		notifier:        notifier,
		logger:          logger,
		requestedClaims: requestedClaims,
		sessionTTL:      sessionTTL,
		now:             time.Now,
	}
}

// Start creates a fresh session and its signed authorization request. The
// session id doubles as the OID4VP state parameter.
func (s *Service) Start(ctx context.Context) (*StartResult, error) {
	ctx, span := tracer.Start(ctx, "verification.Start")
	defer span.End()
	began := s.now()

	authReq, err := s.builder.CreateAuthorizationRequest(s.requestedClaims)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build authorization request",
			"request_id", middleware.GetRequestID(ctx), "error", err)
		return nil, err
	}

	session, err := s.store.Create(ctx, authReq.SessionID, authReq.Nonce, s.sessionTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist session",
			"request_id", middleware.GetRequestID(ctx), "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", session.ID))

	s.metrics.IncSessionsStarted()
	s.metrics.ObserveStartLatency(s.now().Sub(began))
	s.auditor.Emit(ctx, audit.Event{
		Category:  audit.CategoryOperations,
		Action:    audit.ActionSessionCreated,
		SessionID: session.ID,
		RequestID: middleware.GetRequestID(ctx),
	})
	s.logger.InfoContext(ctx, "verification session started",
		"session_id", session.ID, "expires_at", session.ExpiresAt)

	return &StartResult{
		SessionID:  session.ID,
		RequestURI: authReq.RequestURI,
		QRPayload:  authReq.QRPayload,
		ExpiresAt:  session.ExpiresAt,
	}, nil
}

// Poll returns the current session record. Expired and unknown sessions are
// indistinguishable to the caller.
func (s *Service) Poll(ctx context.Context, sessionID string) (*models.Session, error) {
	ctx, span := tracer.Start(ctx, "verification.Poll",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	return s.store.Get(ctx, sessionID)
}

// Cancel removes the session early and tears down any live subscriptions.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "verification.Cancel",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.bridge.Complete(sessionID)
	s.metrics.IncOutcome("cancelled")
	s.auditor.Emit(ctx, audit.Event{
		Category:  audit.CategoryOperations,
		Action:    audit.ActionSessionCancelled,
		SessionID: sessionID,
		RequestID: middleware.GetRequestID(ctx),
	})
	s.logger.InfoContext(ctx, "verification session cancelled", "session_id", sessionID)
	return nil
}

// ApplyOutcome records a pre-validated terminal outcome for a session and,
// when this call is the one that flipped the record, pushes the terminal
// event exactly once. Repeated same-state applications are idempotent.
func (s *Service) ApplyOutcome(ctx context.Context, sessionID string, to models.State, userData map[string]any) (*models.Session, error) {
	ctx, span := tracer.Start(ctx, "verification.ApplyOutcome",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("session.state", string(to)),
		))
	defer span.End()

	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	session, changed, err := s.store.Transition(ctx, sessionID, to, userData)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			s.logger.WarnContext(ctx, "conflicting terminal outcome rejected",
				"session_id", sessionID, "attempted_state", string(to))
		}
		return nil, err
	}
	if changed {
		s.publishTerminal(ctx, session)
	}
	return session, nil
}

// HandleWalletResponse validates a direct_post presentation against the
// session's nonce and applies the outcome. The returned error is safe to
// surface to the wallet; validation detail never leaves the process.
func (s *Service) HandleWalletResponse(ctx context.Context, sessionID string, resp validator.Response) (*models.Session, error) {
	ctx, span := tracer.Start(ctx, "verification.HandleWalletResponse",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() {
		return nil, store.ErrInvalidTransition
	}

	result, verr := s.validator.Verify(ctx, resp, session.Nonce)
	if verr != nil {
		s.auditor.Emit(ctx, audit.Event{
			Category:  audit.CategorySecurity,
			Action:    audit.ActionSessionFailed,
			SessionID: sessionID,
			Issuer:    result.IssuerDID,
			RequestID: middleware.GetRequestID(ctx),
			Reason:    validator.FailureKind(verr),
		})
		var changed bool
		session, changed, err = s.store.Transition(ctx, sessionID, models.StateFailed, nil)
		if err != nil {
			return nil, err
		}
		if changed {
			s.publishTerminal(ctx, session)
		}
		return session, dErrors.New(dErrors.CodeInvalidInput, genericFailureMessage)
	}

	session, changed, err := s.store.Transition(ctx, sessionID, models.StateVerified, result.Claims)
	if err != nil {
		return nil, err
	}
	if changed {
		s.auditor.Emit(ctx, audit.Event{
			Category:  audit.CategoryOperations,
			Action:    audit.ActionSessionVerified,
			SessionID: sessionID,
			Issuer:    result.IssuerDID,
			RequestID: middleware.GetRequestID(ctx),
		})
		s.publishTerminal(ctx, session)
	}
	return session, nil
}

// Intrusions exposes the recorded untrusted-issuer attempts.
func (s *Service) Intrusions() map[string]validator.IntrusionEntry {
	return s.validator.Intrusions()
}

// Audit lists recent audit events for operator surfaces.
func (s *Service) Audit(ctx context.Context, limit int) ([]audit.Event, error) {
	return s.auditor.ListRecent(ctx, limit)
}

// publishTerminal pushes the terminal event to live subscribers, tears the
// subscription set down, and kicks off side-channel notification. Callers
// invoke it only on the transition that actually changed the record.
func (s *Service) publishTerminal(ctx context.Context, session *models.Session) {
	var notified int
	switch session.State {
	case models.StateVerified:
		notified = s.bridge.Publish(session.ID, bridge.EventVerified, map[string]any{
			"session_id": session.ID,
			"user_data":  session.UserData,
		})
	case models.StateFailed:
		notified = s.bridge.Publish(session.ID, bridge.EventError, map[string]any{
			"session_id": session.ID,
			"message":    genericFailureMessage,
		})
	default:
		return
	}
	s.bridge.Complete(session.ID)
	s.metrics.IncOutcome(string(session.State))

	s.logger.InfoContext(ctx, "terminal event published",
		"session_id", session.ID, "state", string(session.State), "subscribers_notified", notified)

	if s.notifier == nil {
		return
	}
	latency := s.now().Sub(session.CreatedAt)
	state := session.State
	// Webhook delivery must not inherit the request deadline.
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		var err error
		if state == models.StateVerified {
			err = s.notifier.SessionVerified(bgCtx, latency)
		} else {
			err = s.notifier.SessionFailed(bgCtx, genericFailureMessage, latency)
		}
		if err != nil {
			s.logger.WarnContext(bgCtx, "outcome webhook failed",
				"session_id", session.ID, "error", err)
		}
	}()
}
