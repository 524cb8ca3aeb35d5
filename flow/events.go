package flow

import (
	"context"
	"time"

	"github.com/pointshop/shopauth/logger"
	"go.uber.org/zap"
)

type EventType string

const (
	EventLogin            EventType = "auth.login"
	EventRegistration     EventType = "auth.registration"
	EventLogout           EventType = "auth.logout"
	EventProfileCompleted EventType = "auth.profile.completed"
	EventLockout          EventType = "auth.lockout"
)

// Event describes one finished flow step.
type Event struct {
	Type       EventType
	Email      string
	IdentityID uint
	Outcome    Outcome
	RetryAfter int
	Duration   time.Duration
	At         time.Time
}

// Observer receives flow events. Observers run synchronously on the request
// path, so each must bound its own work; their failures never change a flow
// outcome.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

type observers []Observer

func (o observers) notify(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	for _, obs := range o {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Log.Error("flow observer panicked", zap.Any("panic", r), zap.String("event", string(e.Type)))
				}
			}()
			obs.Observe(ctx, e)
		}()
	}
}
