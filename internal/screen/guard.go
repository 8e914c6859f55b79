package screen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/horsemanagement/stablegate/internal/access"
	"github.com/horsemanagement/stablegate/internal/auth"
	"github.com/horsemanagement/stablegate/internal/users"
)

// ErrUnmounted is returned when the mount was abandoned before its
// permission load finished. The load result is discarded.
var ErrUnmounted = errors.New("screen: mount cancelled")

// PermissionLoader fetches the permission set for a non-admin actor.
type PermissionLoader interface {
	LoadActorPermissions(ctx context.Context, userID, token string) users.Result
}

// ActorCache receives actors loaded by a successful mount. Generation is
// read before the load and handed back to Remember, which drops the actor
// if the user was invalidated in between.
type ActorCache interface {
	Generation(ctx context.Context, userID string) int64
	Remember(ctx context.Context, actor access.Actor, generation int64)
}

// Outcome is the settled result of a mount.
type Outcome struct {
	State    State
	Decision access.Decision
	Actor    *access.Actor
	Warning  error
}

// Guard runs the mount lifecycle for gated screens.
type Guard struct {
	gate   *access.Gate
	loader PermissionLoader
	cache  ActorCache
	logger *slog.Logger
}

// NewGuard constructs a Guard. cache may be nil.
func NewGuard(gate *access.Gate, loader PermissionLoader, cache ActorCache, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{gate: gate, loader: loader, cache: cache, logger: logger}
}

// Mount resolves the actor for one screen mount of feature and settles the
// screen into a terminal state. Non-admin actors get exactly one fresh
// permission load; admins and anonymous callers never trigger one. If ctx is
// cancelled while the load is in flight Mount returns ErrUnmounted and
// nothing is cached.
func (g *Guard) Mount(ctx context.Context, id *auth.Identity, feature access.Feature) (Outcome, error) {
	if _, ok := g.gate.Catalogue().Lookup(feature); !ok {
		return Outcome{}, &access.InvalidFeatureError{Feature: feature}
	}
	m := newMachine()

	if id == nil {
		return g.settle(m, StateUnauthenticated, nil, feature, nil)
	}
	if id.Role == access.RoleAdmin {
		actor := &access.Actor{ID: id.UserID, Role: access.RoleAdmin}
		return g.settle(m, StateAuthenticatedAdmin, actor, feature, nil)
	}

	if err := m.advance(StatePermissionsLoading); err != nil {
		return Outcome{}, err
	}
	var gen int64
	if g.cache != nil {
		gen = g.cache.Generation(ctx, id.UserID)
	}
	res := g.loader.LoadActorPermissions(ctx, id.UserID, id.Token)
	if err := ctx.Err(); err != nil {
		g.logger.Debug("screen mount abandoned",
			slog.String("feature", string(feature)),
			slog.String("user_id", id.UserID))
		return Outcome{}, fmt.Errorf("%w: %w", ErrUnmounted, err)
	}

	actor := &access.Actor{ID: id.UserID, Role: id.Role, Permissions: res.Permissions}
	if res.Warning != nil {
		return g.settle(m, StateDenied, actor, feature, res.Warning)
	}
	if g.cache != nil {
		g.cache.Remember(ctx, *actor, gen)
	}
	return g.settle(m, StatePermissionsLoaded, actor, feature, nil)
}

func (g *Guard) settle(m *machine, to State, actor *access.Actor, feature access.Feature, warning error) (Outcome, error) {
	if err := m.advance(to); err != nil {
		return Outcome{}, err
	}
	decision, err := g.gate.Evaluate(actor, feature)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{State: m.state, Decision: decision, Actor: actor, Warning: warning}, nil
}
