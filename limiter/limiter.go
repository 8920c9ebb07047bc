// Package limiter implements a per-entity fixed-window rate limiter.
//
// Each entity is registered once with its own limit and window. Admission
// checks for one entity are serialized on that entity's mutex; checks for
// different entities never contend on the same lock. The key set is split
// across shards selected by an xxhash of the entity id, so registration and
// removal only lock the shard that owns the id.
package limiter

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/codetesla51/entitylimit/clock"
)

const DefaultShards = 32

type Limiter struct {
	name     string
	clock    clock.Clock
	logger   *zap.Logger
	observer Observer
	shards   []*shard
}

type Option func(*Limiter)

// WithClock replaces the wall clock used by Register, Allow and Now.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithShards sets the number of registry shards. Values below 1 keep the default.
func WithShards(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.shards = newShards(n)
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(l *Limiter) {
		if o != nil {
			l.observer = o
		}
	}
}

// WithName labels the limiter in logs and metrics.
func WithName(name string) Option {
	return func(l *Limiter) {
		l.name = name
	}
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		name:     "default",
		clock:    clock.Real(),
		logger:   zap.NewNop(),
		observer: nopObserver{},
		shards:   newShards(DefaultShards),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("limiter", l.name))
	return l
}

func (l *Limiter) Name() string { return l.name }

// Now reads the limiter's clock.
func (l *Limiter) Now() time.Time { return l.clock.Now() }

func (l *Limiter) shardFor(id string) *shard {
	return l.shards[xxhash.Sum64String(id)%uint64(len(l.shards))]
}

func validate(limit int, window time.Duration) error {
	if limit < 1 || window <= 0 {
		return ErrInvalidConfiguration
	}
	return nil
}
