package accesshttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/horsemanagement/stablegate/internal/access"
	"github.com/horsemanagement/stablegate/internal/audit"
	"github.com/horsemanagement/stablegate/internal/auth"
	"github.com/horsemanagement/stablegate/internal/platform/httpx"
)

// ActorResolver turns the request identity into a gate actor.
type ActorResolver interface {
	Actor(ctx context.Context, id *auth.Identity) *access.Actor
}

// DecisionObserver counts gate decisions.
type DecisionObserver interface {
	ObserveDecision(feature, reason string)
}

// DenialRecorder persists denied decisions.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, d audit.Denial)
}

// Middleware gates routes on catalogue features.
type Middleware struct {
	Gate     *access.Gate
	Actors   ActorResolver
	Observer DecisionObserver
	Audit    DenialRecorder
	Logger   *slog.Logger
}

// RequireFeature allows the request only when the gate allows the current
// actor on feature. It panics on a feature outside the catalogue, so a
// misconfigured route fails at startup.
func (m Middleware) RequireFeature(feature access.Feature) func(http.Handler) http.Handler {
	m.mustKnow(feature)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.authorize(w, r, feature) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated lets any authenticated caller through. Anonymous
// requests are rejected and attributed to feature.
func (m Middleware) RequireAuthenticated(feature access.Feature) func(http.Handler) http.Handler {
	m.mustKnow(feature)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.authenticated(w, r, feature) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GuardWrites lets safe methods through for any authenticated caller and
// requires feature for everything else.
func (m Middleware) GuardWrites(feature access.Feature) func(http.Handler) http.Handler {
	m.mustKnow(feature)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var allowed bool
			if isSafeMethod(r.Method) {
				allowed = m.authenticated(w, r, feature)
			} else {
				allowed = m.authorize(w, r, feature)
			}
			if allowed {
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (m Middleware) authenticated(w http.ResponseWriter, r *http.Request, feature access.Feature) bool {
	if auth.IdentityFromContext(r.Context()) == nil {
		m.reject(w, r, feature, nil, access.Decision{Reason: access.ReasonNotAuthenticated})
		return false
	}
	return true
}

func (m Middleware) mustKnow(feature access.Feature) {
	if _, ok := m.Gate.Catalogue().Lookup(feature); !ok {
		panic(fmt.Sprintf("accesshttp: route gated on unknown feature %q", feature))
	}
}

func (m Middleware) authorize(w http.ResponseWriter, r *http.Request, feature access.Feature) bool {
	var actor *access.Actor
	if id := auth.IdentityFromContext(r.Context()); id != nil {
		actor = m.Actors.Actor(r.Context(), id)
	}
	decision, err := m.Gate.Evaluate(actor, feature)
	if err != nil {
		m.logger().Error("gate evaluate", slog.String("feature", string(feature)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return false
	}
	if m.Observer != nil {
		m.Observer.ObserveDecision(string(feature), string(decision.Reason))
	}
	if !decision.Allowed {
		m.reject(w, r, feature, actor, decision)
		return false
	}
	return true
}

func (m Middleware) reject(w http.ResponseWriter, r *http.Request, feature access.Feature, actor *access.Actor, decision access.Decision) {
	if decision.Reason == access.ReasonNotAuthenticated && m.Observer != nil {
		m.Observer.ObserveDecision(string(feature), string(decision.Reason))
	}
	userID := ""
	if actor != nil {
		userID = actor.ID
	}
	m.logger().Info("access denied",
		slog.String("feature", string(feature)),
		slog.String("reason", string(decision.Reason)),
		slog.String("user_id", userID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))
	recordDenial(r, m.Audit, feature, userID, decision)

	if decision.Reason == access.ReasonNotAuthenticated {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	httpx.Forbidden(w)
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

func recordDenial(r *http.Request, rec DenialRecorder, feature access.Feature, userID string, decision access.Decision) {
	if rec == nil || decision.Allowed {
		return
	}
	rec.RecordDenial(r.Context(), audit.Denial{
		UserID:    userID,
		Feature:   string(feature),
		Reason:    string(decision.Reason),
		Method:    r.Method,
		Path:      r.URL.Path,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
