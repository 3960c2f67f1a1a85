// Package lease provides named, expiring mutual exclusion across scheduler
// instances. A lease is held by one holder until it is released or its TTL
// passes; a Locker keeps a held lease alive while the caller works.
package lease

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/paysched/id"
)

// Well-known lease names.
const (
	DailyRun   = "paysched:daily"
	RetrySweep = "paysched:retry"
)

// Store defines the persistence contract for leases.
type Store interface {
	// AcquireLease takes the named lease for holder until ttl from now.
	// It succeeds when the lease is free, expired or already held by
	// holder (which extends it). It returns false, nil when another holder
	// has it.
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)

	// ReleaseLease frees the named lease if holder still has it.
	ReleaseLease(ctx context.Context, name, holder string) error
}

// DefaultTTL is the lease lifetime used when none is configured.
const DefaultTTL = 2 * time.Minute

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets the lease TTL. The lease is renewed every TTL/2.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithHolder sets the holder identity. Defaults to a fresh worker ID.
func WithHolder(holder string) Option {
	return func(l *Locker) {
		if holder != "" {
			l.holder = holder
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

// Locker acquires and renews leases on behalf of one holder.
type Locker struct {
	store  Store
	holder string
	ttl    time.Duration
	logger *slog.Logger
}

// NewLocker creates a Locker over s.
func NewLocker(s Store, opts ...Option) *Locker {
	l := &Locker{
		store:  s,
		holder: id.NewWorkerID().String(),
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Holder returns the holder identity.
func (l *Locker) Holder() string { return l.holder }

// TryLock attempts to take the named lease without waiting. When ok is true
// the lease is renewed in the background until unlock is called; unlock is
// safe to call more than once. When ok is false another holder has the
// lease and unlock is a no-op.
func (l *Locker) TryLock(ctx context.Context, name string) (unlock func(), ok bool, err error) {
	ok, err = l.store.AcquireLease(ctx, name, l.holder, l.ttl)
	if err != nil || !ok {
		return func() {}, false, err
	}

	renewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go l.renew(renewCtx, name, done)

	var once sync.Once
	unlock = func() {
		once.Do(func() {
			cancel()
			<-done
			relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer relCancel()
			if err := l.store.ReleaseLease(relCtx, name, l.holder); err != nil {
				l.logger.Warn("failed to release lease",
					slog.String("lease", name),
					slog.String("holder", l.holder),
					slog.String("error", err.Error()),
				)
			}
		})
	}
	return unlock, true, nil
}

func (l *Locker) renew(ctx context.Context, name string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := l.store.AcquireLease(ctx, name, l.holder, l.ttl)
			switch {
			case err != nil && ctx.Err() == nil:
				l.logger.Warn("lease renewal failed",
					slog.String("lease", name),
					slog.String("error", err.Error()),
				)
			case err == nil && !ok:
				l.logger.Error("lease lost to another holder",
					slog.String("lease", name),
					slog.String("holder", l.holder),
				)
				return
			}
		}
	}
}
