package limiter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// entity is the mutable state of one registered id. Every field is guarded by mu.
type entity struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	windowStart time.Time
	count       int
	lastSeen    time.Time
	removed     bool
	// ephemeral entities were registered on demand and may be swept when idle
	ephemeral bool
}

type shard struct {
	mu       sync.RWMutex
	entities map[string]*entity
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{entities: make(map[string]*entity)}
	}
	return shards
}

// State is a point-in-time copy of an entity's counters.
type State struct {
	ID          string        `json:"id"`
	Limit       int           `json:"limit"`
	Window      time.Duration `json:"window"`
	WindowStart time.Time     `json:"window_start"`
	Count       int           `json:"count"`
}

func (s State) Remaining() int { return s.Limit - s.Count }

func (s State) ResetAt() time.Time { return s.WindowStart.Add(s.Window) }

// Register adds id with the given allowance. The first window starts at the
// limiter clock's current time. Registering an id twice returns
// ErrAlreadyRegistered and leaves the existing state untouched.
func (l *Limiter) Register(id string, limit int, window time.Duration) error {
	return l.insert(id, limit, window, false)
}

// RegisterEphemeral is Register for entities created on demand, such as
// clients seen for the first time. Only ephemeral entities are evicted by Sweep.
func (l *Limiter) RegisterEphemeral(id string, limit int, window time.Duration) error {
	return l.insert(id, limit, window, true)
}

func (l *Limiter) insert(id string, limit int, window time.Duration, ephemeral bool) error {
	if err := validate(limit, window); err != nil {
		return fmt.Errorf("register %q (limit=%d window=%s): %w", id, limit, window, err)
	}

	now := l.clock.Now()
	s := l.shardFor(id)

	s.mu.Lock()
	if _, exists := s.entities[id]; exists {
		s.mu.Unlock()
		return fmt.Errorf("register %q: %w", id, ErrAlreadyRegistered)
	}
	s.entities[id] = &entity{
		limit:       limit,
		window:      window,
		windowStart: now,
		lastSeen:    now,
		ephemeral:   ephemeral,
	}
	s.mu.Unlock()

	l.logger.Debug("entity registered",
		zap.String("entity", id),
		zap.Int("limit", limit),
		zap.Duration("window", window),
		zap.Bool("ephemeral", ephemeral))
	return nil
}

// Replace registers id, overwriting any existing allowance. The window and
// count restart as if the entity had just been registered. A replaced entity
// is never ephemeral.
func (l *Limiter) Replace(id string, limit int, window time.Duration) error {
	if err := validate(limit, window); err != nil {
		return fmt.Errorf("replace %q (limit=%d window=%s): %w", id, limit, window, err)
	}

	now := l.clock.Now()
	s := l.shardFor(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entities[id]
	if !exists {
		s.entities[id] = &entity{
			limit:       limit,
			window:      window,
			windowStart: now,
			lastSeen:    now,
		}
		l.logger.Debug("entity registered",
			zap.String("entity", id),
			zap.Int("limit", limit),
			zap.Duration("window", window))
		return nil
	}

	// Reset in place so checks already holding e see the new allowance.
	e.mu.Lock()
	e.limit = limit
	e.window = window
	e.windowStart = now
	e.count = 0
	e.lastSeen = now
	e.ephemeral = false
	e.mu.Unlock()

	l.logger.Debug("entity replaced",
		zap.String("entity", id),
		zap.Int("limit", limit),
		zap.Duration("window", window))
	return nil
}

func (l *Limiter) get(id string) *entity {
	s := l.shardFor(id)
	s.mu.RLock()
	e := s.entities[id]
	s.mu.RUnlock()
	return e
}

func (l *Limiter) Lookup(id string) (State, error) {
	e := l.get(id)
	if e == nil {
		return State{}, fmt.Errorf("lookup %q: %w", id, ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return State{}, fmt.Errorf("lookup %q: %w", id, ErrNotFound)
	}
	return State{
		ID:          id,
		Limit:       e.limit,
		Window:      e.window,
		WindowStart: e.windowStart,
		Count:       e.count,
	}, nil
}

// Remove deletes id. Removing an unknown id returns ErrNotFound.
func (l *Limiter) Remove(id string) error {
	s := l.shardFor(id)

	s.mu.Lock()
	e, exists := s.entities[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("remove %q: %w", id, ErrNotFound)
	}
	delete(s.entities, id)
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	s.mu.Unlock()

	l.logger.Debug("entity removed", zap.String("entity", id))
	return nil
}

func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.RLock()
		n += len(s.entities)
		s.mu.RUnlock()
	}
	return n
}

// IDs returns the registered ids in sorted order.
func (l *Limiter) IDs() []string {
	ids := make([]string, 0, l.Len())
	for _, s := range l.shards {
		s.mu.RLock()
		for id := range s.entities {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// Sweep removes ephemeral entities whose current window has elapsed and that
// have not been checked for at least idle. It returns the number of evicted entities.
func (l *Limiter) Sweep(now time.Time, idle time.Duration) int {
	evicted := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for id, e := range s.entities {
			e.mu.Lock()
			if e.ephemeral && !now.Before(e.windowStart.Add(e.window)) && now.Sub(e.lastSeen) >= idle {
				e.removed = true
				delete(s.entities, id)
				evicted++
			}
			e.mu.Unlock()
		}
		s.mu.Unlock()
	}

	if evicted > 0 {
		l.logger.Info("evicted idle entities",
			zap.Int("evicted", evicted),
			zap.Duration("idle", idle))
	}
	return evicted
}

// RunJanitor sweeps idle entities every interval until ctx is done.
func (l *Limiter) RunJanitor(ctx context.Context, interval, idle time.Duration) error {
	if interval <= 0 || idle <= 0 {
		return fmt.Errorf("janitor interval=%s idle=%s: %w", interval, idle, ErrInvalidConfiguration)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sweep(l.clock.Now(), idle)
		}
	}
}
