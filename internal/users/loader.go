package users

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/horsemanagement/stablegate/internal/access"
)

// ErrPermissionsUnavailable wraps every failed permission load.
var ErrPermissionsUnavailable = errors.New("users: permissions unavailable, access restricted")

// Outcome labels how a permission load ended.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeFetchError Outcome = "fetch_error"
	OutcomeMalformed  Outcome = "malformed"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeCancelled  Outcome = "cancelled"
)

// Result is the outcome of LoadActorPermissions. Permissions is always a
// usable total set; Warning is non-nil when it is the deny-all fallback.
type Result struct {
	Permissions access.PermissionSet
	Outcome     Outcome
	Warning     error
}

// RecordFetcher retrieves user records from the backend.
type RecordFetcher interface {
	GetRecord(ctx context.Context, userID, token string) (Record, error)
}

// LoadObserver receives one call per finished load.
type LoadObserver interface {
	ObservePermissionLoad(outcome string)
}

// LoaderConfig tunes a Loader.
type LoaderConfig struct {
	// Timeout bounds each backend fetch. Expiry resolves to deny-all.
	Timeout  time.Duration
	Logger   *slog.Logger
	Observer LoadObserver
}

// Loader resolves permission sets for non-admin actors. Concurrent loads for
// the same user and token share one backend request.
type Loader struct {
	fetcher   RecordFetcher
	catalogue *access.Catalogue
	timeout   time.Duration
	logger    *slog.Logger
	observer  LoadObserver
	group     singleflight.Group
}

// NewLoader constructs a Loader.
func NewLoader(fetcher RecordFetcher, catalogue *access.Catalogue, cfg LoaderConfig) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		fetcher:   fetcher,
		catalogue: catalogue,
		timeout:   cfg.Timeout,
		logger:    logger,
		observer:  cfg.Observer,
	}
}

// LoadActorPermissions fetches and normalizes the permission document for
// userID. It never returns an error: fetch failures, timeouts, cancellation
// and malformed documents all produce the deny-all set with a Warning.
func (l *Loader) LoadActorPermissions(ctx context.Context, userID, token string) Result {
	if err := ctx.Err(); err != nil {
		return l.fail(userID, OutcomeCancelled, err)
	}
	ch := l.group.DoChan(flightKey(userID, token), func() (interface{}, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if l.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, l.timeout)
			defer cancel()
		}
		return l.fetcher.GetRecord(fetchCtx, userID, token)
	})

	select {
	case <-ctx.Done():
		return l.fail(userID, OutcomeCancelled, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return l.fail(userID, classify(res.Err), res.Err)
		}
		rec, _ := res.Val.(Record)
		perms, err := l.catalogue.ParsePermissionDocument(rec.Permissions)
		if err != nil {
			return l.fail(userID, OutcomeMalformed, err)
		}
		l.observe(OutcomeOK)
		return Result{Permissions: perms, Outcome: OutcomeOK}
	}
}

func (l *Loader) fail(userID string, outcome Outcome, err error) Result {
	l.observe(outcome)
	if outcome == OutcomeCancelled {
		l.logger.Debug("permission load abandoned", slog.String("user_id", userID), slog.Any("error", err))
	} else {
		l.logger.Warn("permission load failed",
			slog.String("user_id", userID),
			slog.String("outcome", string(outcome)),
			slog.Any("error", err),
		)
	}
	return Result{
		Permissions: l.catalogue.DenyAll(),
		Outcome:     outcome,
		Warning:     fmt.Errorf("%w: %w", ErrPermissionsUnavailable, err),
	}
}

func (l *Loader) observe(outcome Outcome) {
	if l.observer != nil {
		l.observer.ObservePermissionLoad(string(outcome))
	}
}

// flightKey scopes request sharing to one credential, so a caller never
// receives a record fetched with someone else's token.
func flightKey(userID, token string) string {
	sum := sha256.Sum256([]byte(token))
	return userID + ":" + hex.EncodeToString(sum[:])
}

func classify(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	if errors.Is(err, ErrMalformedRecord) {
		return OutcomeMalformed
	}
	return OutcomeFetchError
}
