// Package audit records authentication events for later review.
//
// A Recorder is attached to the flow managers as an observer. Each finished
// login, registration, logout or profile completion becomes one Event with a
// time-ordered snowflake id, saved through a Store. Saving is best effort:
// a failing store is logged and never changes the outcome of the flow that
// produced the event.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pointshop/shopauth/flow"
	"github.com/pointshop/shopauth/logger"
	"go.uber.org/zap"
)

// Event represents a structured security event record.
type Event struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`   // e.g., "auth.login.success"
	Status     string        `json:"status"` // "success", "failure", "blocked"
	Email      string        `json:"email,omitempty"`
	IdentityID uint          `json:"identity_id,omitempty"`
	Message    string        `json:"message"`
	RetryAfter int           `json:"retry_after,omitempty"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

const (
	EventLoginSuccess     = "auth.login.success"
	EventLoginFailure     = "auth.login.failure"
	EventLoginBlocked     = "auth.login.blocked"
	EventLoginError       = "auth.login.error"
	EventLogout           = "auth.logout"
	EventLockout          = "auth.lockout"
	EventUserCreated      = "identity.created"
	EventProfileCompleted = "identity.profile.completed"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusBlocked = "blocked"
	StatusError   = "error"
)

// Store persists audit events.
type Store interface {
	SaveEvent(ctx context.Context, event *Event) error
}

// DefaultSaveTimeout bounds the time one audit write may add to a request.
const DefaultSaveTimeout = 5 * time.Second

// Recorder turns flow events into persisted audit events.
type Recorder struct {
	store   Store
	node    *snowflake.Node
	timeout time.Duration
}

// NewRecorder creates a Recorder whose ids are generated on snowflake node nodeID.
func NewRecorder(store Store, nodeID int64) (*Recorder, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("audit: snowflake node: %w", err)
	}
	return &Recorder{store: store, node: node, timeout: DefaultSaveTimeout}, nil
}

// SetTimeout sets the deadline given to each save.
func (r *Recorder) SetTimeout(d time.Duration) {
	r.timeout = d
}

// Observe implements flow.Observer.
func (r *Recorder) Observe(ctx context.Context, e flow.Event) {
	ev := r.convert(e)
	if ev == nil {
		return
	}

	// The request may already be finishing; the audit write must not be
	// cancelled with it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.store.SaveEvent(ctx, ev); err != nil {
		logger.Log.Error("audit event not saved",
			zap.String("type", ev.Type),
			zap.String("id", ev.ID),
			zap.Error(err),
		)
	}
}

func (r *Recorder) convert(e flow.Event) *Event {
	ev := &Event{
		ID:         r.node.Generate().String(),
		Email:      e.Email,
		IdentityID: e.IdentityID,
		RetryAfter: e.RetryAfter,
		Duration:   e.Duration,
		CreatedAt:  e.At,
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	switch e.Type {
	case flow.EventLogin:
		switch e.Outcome {
		case flow.OutcomeSuccess:
			ev.Type, ev.Status = EventLoginSuccess, StatusSuccess
		case flow.OutcomeLockedOut:
			ev.Type, ev.Status = EventLoginBlocked, StatusBlocked
		case flow.OutcomeStorageError:
			ev.Type, ev.Status = EventLoginError, StatusError
		default:
			ev.Type, ev.Status = EventLoginFailure, StatusFailure
		}
		ev.Message = string(e.Outcome)
	case flow.EventLockout:
		ev.Type, ev.Status, ev.Message = EventLockout, StatusBlocked, "too many failed attempts"
	case flow.EventRegistration:
		ev.Type, ev.Status, ev.Message = EventUserCreated, StatusSuccess, "registered"
	case flow.EventLogout:
		ev.Type, ev.Status, ev.Message = EventLogout, StatusSuccess, "logged out"
	case flow.EventProfileCompleted:
		ev.Type, ev.Status, ev.Message = EventProfileCompleted, StatusSuccess, "contact added"
	default:
		return nil
	}
	return ev
}
