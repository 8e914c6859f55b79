package session

import (
	"context"
	"log/slog"

	"github.com/horsemanagement/stablegate/internal/access"
	"github.com/horsemanagement/stablegate/internal/auth"
	"github.com/horsemanagement/stablegate/internal/users"
)

// PermissionLoader loads permission sets for non-admin actors.
type PermissionLoader interface {
	LoadActorPermissions(ctx context.Context, userID, token string) users.Result
}

// Resolver turns a request identity into the actor handed to the gate.
type Resolver struct {
	store  *Store
	loader PermissionLoader
	logger *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(store *Store, loader PermissionLoader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, loader: loader, logger: logger}
}

// Actor resolves id into an actor. A nil identity yields a nil actor. Admins
// never trigger a permission load. For other users the cached actor is used
// when its role still matches the token; otherwise permissions are loaded
// and cached on success unless the user was invalidated meanwhile. Failed
// loads fall back to deny-all and are not cached.
func (r *Resolver) Actor(ctx context.Context, id *auth.Identity) *access.Actor {
	if id == nil {
		return nil
	}
	if id.Role == access.RoleAdmin {
		return &access.Actor{ID: id.UserID, Role: access.RoleAdmin}
	}

	cached, ok, err := r.store.Get(ctx, id.UserID)
	if err != nil {
		r.logger.Warn("actor cache read", slog.String("user_id", id.UserID), slog.Any("error", err))
	}
	if ok && cached.Role == id.Role {
		return &cached
	}

	gen := r.Generation(ctx, id.UserID)
	res := r.loader.LoadActorPermissions(ctx, id.UserID, id.Token)
	actor := &access.Actor{ID: id.UserID, Role: id.Role, Permissions: res.Permissions}
	if res.Warning == nil {
		r.Remember(ctx, *actor, gen)
	}
	return actor
}

// Generation reads the cache generation for userID ahead of a load. It
// returns -1 when the generation is unreadable; Remember skips such loads.
func (r *Resolver) Generation(ctx context.Context, userID string) int64 {
	gen, err := r.store.Generation(ctx, userID)
	if err != nil {
		r.logger.Warn("actor cache generation", slog.String("user_id", userID), slog.Any("error", err))
		return -1
	}
	return gen
}

// Remember caches actor if it was loaded at the current generation,
// logging failures.
func (r *Resolver) Remember(ctx context.Context, actor access.Actor, generation int64) {
	if generation < 0 {
		return
	}
	stored, err := r.store.Put(ctx, actor, generation)
	if err != nil {
		r.logger.Warn("actor cache write", slog.String("user_id", actor.ID), slog.Any("error", err))
		return
	}
	if !stored {
		r.logger.Debug("actor invalidated during load", slog.String("user_id", actor.ID))
	}
}

// Forget drops the cached actor for userID.
func (r *Resolver) Forget(ctx context.Context, userID string) error {
	return r.store.Invalidate(ctx, userID)
}
