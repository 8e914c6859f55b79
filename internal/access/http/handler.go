package accesshttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/horsemanagement/stablegate/internal/access"
	"github.com/horsemanagement/stablegate/internal/auth"
	"github.com/horsemanagement/stablegate/internal/platform/httpx"
	"github.com/horsemanagement/stablegate/internal/screen"
	"github.com/horsemanagement/stablegate/internal/users"
)

const permissionsWarning = "permissions could not be loaded; access is restricted until the screen is reopened"

type screenGuard interface {
	Mount(ctx context.Context, id *auth.Identity, feature access.Feature) (screen.Outcome, error)
}

type sessionCache interface {
	ActorResolver
	Forget(ctx context.Context, userID string) error
}

type userDirectory interface {
	GetRecord(ctx context.Context, userID, token string) (users.Record, error)
	UpdatePermissions(ctx context.Context, userID, token string, perms access.PermissionSet) error
}

// UpstreamSource builds backend handlers for feature upstream paths.
type UpstreamSource interface {
	For(upstreamPath string) http.Handler
}

// Handler serves the access API and the gated backend routes.
type Handler struct {
	logger   *slog.Logger
	gate     *access.Gate
	guard    screenGuard
	sessions sessionCache
	users    userDirectory
	upstream UpstreamSource
	mw       Middleware
}

// Options groups Handler dependencies.
type Options struct {
	Logger   *slog.Logger
	Gate     *access.Gate
	Guard    screenGuard
	Sessions sessionCache
	Users    userDirectory
	Upstream UpstreamSource
	Observer DecisionObserver
	Audit    DenialRecorder
}

// NewHandler builds a Handler.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		logger:   logger,
		gate:     opts.Gate,
		guard:    opts.Guard,
		sessions: opts.Sessions,
		users:    opts.Users,
		upstream: opts.Upstream,
		mw: Middleware{
			Gate:     opts.Gate,
			Actors:   opts.Sessions,
			Observer: opts.Observer,
			Audit:    opts.Audit,
			Logger:   logger,
		},
	}
	return h
}

type featureView struct {
	Name        access.Feature `json:"name"`
	AdminOnly   bool           `json:"admin_only"`
	Description string         `json:"description,omitempty"`
}

func (h *Handler) listFeatures(w http.ResponseWriter, r *http.Request) {
	specs := h.gate.Catalogue().Features()
	out := make([]featureView, 0, len(specs))
	for _, spec := range specs {
		out = append(out, featureView{Name: spec.Name, AdminOnly: spec.AdminOnly, Description: spec.Description})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"features": out})
}

type accessView struct {
	Authenticated bool                     `json:"authenticated"`
	UserID        string                   `json:"user_id,omitempty"`
	Role          access.Role              `json:"role,omitempty"`
	Features      []access.FeatureDecision `json:"features"`
}

func (h *Handler) currentAccess(w http.ResponseWriter, r *http.Request) {
	var actor *access.Actor
	if id := auth.IdentityFromContext(r.Context()); id != nil {
		actor = h.sessions.Actor(r.Context(), id)
	}
	view := accessView{Features: h.gate.EvaluateAll(actor)}
	if actor != nil {
		view.Authenticated = true
		view.UserID = actor.ID
		view.Role = actor.Role
	}
	httpx.JSON(w, http.StatusOK, view)
}

type mountView struct {
	State   screen.State      `json:"state"`
	Allowed bool              `json:"allowed"`
	Reason  access.ReasonCode `json:"reason"`
	Warning string            `json:"warning,omitempty"`
}

func (h *Handler) mountScreen(w http.ResponseWriter, r *http.Request) {
	feature := access.Feature(chi.URLParam(r, "feature"))
	id := auth.IdentityFromContext(r.Context())

	out, err := h.guard.Mount(r.Context(), id, feature)
	switch {
	case errors.Is(err, access.ErrInvalidFeature):
		httpx.RespondError(w, fmt.Errorf("feature %q: %w", feature, httpx.ErrNotFound))
		return
	case errors.Is(err, screen.ErrUnmounted):
		h.logger.Debug("screen mount abandoned by client", slog.String("feature", string(feature)))
		return
	case err != nil:
		h.logger.Error("screen mount", slog.String("feature", string(feature)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	if h.mw.Observer != nil {
		h.mw.Observer.ObserveDecision(string(feature), string(out.Decision.Reason))
	}
	userID := ""
	if out.Actor != nil {
		userID = out.Actor.ID
	}
	recordDenial(r, h.mw.Audit, feature, userID, out.Decision)

	view := mountView{State: out.State, Allowed: out.Decision.Allowed, Reason: out.Decision.Reason}
	if out.Warning != nil {
		view.Warning = permissionsWarning
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if err := h.sessions.Forget(r.Context(), id.UserID); err != nil {
		h.logger.Warn("session invalidate", slog.String("user_id", id.UserID), slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionsView struct {
	UserID      string               `json:"user_id"`
	Permissions access.PermissionSet `json:"permissions"`
	Warning     string               `json:"warning,omitempty"`
}

func (h *Handler) getPermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	rec, err := h.users.GetRecord(r.Context(), userID, bearer(r))
	if err != nil && !errors.Is(err, users.ErrMalformedRecord) {
		h.respondBackendError(w, userID, err)
		return
	}
	perms, perr := h.gate.Catalogue().ParsePermissionDocument(rec.Permissions)
	view := permissionsView{UserID: userID, Permissions: perms}
	if err != nil || perr != nil {
		h.logger.Warn("permission document unreadable", slog.String("user_id", userID), slog.Any("error", errors.Join(err, perr)))
		view.Warning = "stored permissions were unreadable; showing all permissions off"
	}
	httpx.JSON(w, http.StatusOK, view)
}

type permissionsUpdateRequest struct {
	Permissions map[string]bool `json:"permissions"`
}

func (h *Handler) putPermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	var req permissionsUpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if req.Permissions == nil {
		httpx.RespondError(w, fmt.Errorf("%w: permissions object required", httpx.ErrValidation))
		return
	}
	perms, err := h.gate.Catalogue().ValidateUpdate(req.Permissions)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return
	}
	if err := h.users.UpdatePermissions(r.Context(), userID, bearer(r), perms); err != nil {
		h.respondBackendError(w, userID, err)
		return
	}
	if err := h.sessions.Forget(r.Context(), userID); err != nil {
		h.logger.Warn("session invalidate after permission edit", slog.String("user_id", userID), slog.Any("error", err))
	}
	h.logger.Info("permissions updated", slog.String("user_id", userID))
	httpx.JSON(w, http.StatusOK, permissionsView{UserID: userID, Permissions: perms})
}

func (h *Handler) respondBackendError(w http.ResponseWriter, userID string, err error) {
	var statusErr *users.StatusError
	switch {
	case errors.Is(err, users.ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("user %s: %w", userID, httpx.ErrNotFound))
	case errors.As(err, &statusErr) && statusErr.Status == http.StatusForbidden:
		httpx.Forbidden(w)
	case errors.As(err, &statusErr) && statusErr.Status == http.StatusUnauthorized:
		httpx.RespondError(w, httpx.ErrUnauthorized)
	default:
		h.logger.Error("backend user call", slog.String("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, errors.Join(httpx.ErrUpstream, err))
	}
}

func bearer(r *http.Request) string {
	if id := auth.IdentityFromContext(r.Context()); id != nil {
		return id.Token
	}
	return ""
}
