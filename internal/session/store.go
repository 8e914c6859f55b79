// Package session keeps the session-scoped actor in Redis so gated requests
// do not refetch permissions on every call.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/horsemanagement/stablegate/internal/access"
)

const (
	keyPrefix = "stablegate:actor:"
	genPrefix = "stablegate:actorgen:"
)

// putIfCurrent writes the actor only while the user's generation still
// matches the one read before the load.
var putIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[1] then return 0 end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// Store caches actors keyed by user ID.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore constructs a Store. A nil client yields a Store that never hits.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Get returns the cached actor for userID. ok is false on a miss.
func (s *Store) Get(ctx context.Context, userID string) (access.Actor, bool, error) {
	if s == nil || s.client == nil {
		return access.Actor{}, false, nil
	}
	payload, err := s.client.Get(ctx, redisKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return access.Actor{}, false, nil
		}
		return access.Actor{}, false, fmt.Errorf("session: get actor: %w", err)
	}
	var actor access.Actor
	if err := json.Unmarshal(payload, &actor); err != nil {
		return access.Actor{}, false, fmt.Errorf("session: decode actor: %w", err)
	}
	return actor, true, nil
}

// Generation returns the invalidation counter for userID. It starts at 0
// and moves on every Invalidate.
func (s *Store) Generation(ctx context.Context, userID string) (int64, error) {
	if s == nil || s.client == nil {
		return 0, nil
	}
	gen, err := s.client.Get(ctx, genKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("session: read generation: %w", err)
	}
	return gen, nil
}

// Put caches actor for the session TTL if no Invalidate happened since
// generation was read. stored reports whether the write took place.
func (s *Store) Put(ctx context.Context, actor access.Actor, generation int64) (stored bool, err error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	data, err := json.Marshal(actor)
	if err != nil {
		return false, err
	}
	keys := []string{redisKey(actor.ID), genKey(actor.ID)}
	n, err := putIfCurrent.Run(ctx, s.client, keys, strconv.FormatInt(generation, 10), data, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("session: put actor: %w", err)
	}
	return n == 1, nil
}

// Invalidate discards the cached actor for userID and bumps its generation
// so loads already in flight cannot write it back. Used on logout and
// whenever the user's permissions are edited.
func (s *Store) Invalidate(ctx context.Context, userID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKey(userID))
		pipe.Incr(ctx, genKey(userID))
		if s.ttl > 0 {
			pipe.Expire(ctx, genKey(userID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: invalidate actor: %w", err)
	}
	return nil
}

func redisKey(userID string) string {
	return keyPrefix + userID
}

func genKey(userID string) string {
	return genPrefix + userID
}
