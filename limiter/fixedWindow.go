package limiter

import "time"

// Check decides whether id may perform one more operation at now and records
// it when admitted. The staleness check, reset, count check and increment run
// under the entity's mutex as one step.
//
// The active window is [windowStart, windowStart+window). A call at or after
// its end starts a new window at now, even when the call is then denied.
func (l *Limiter) Check(id string, now time.Time) Result {
	e := l.get(id)
	if e == nil {
		l.observer.Observe(id, NotFound)
		return Result{Outcome: NotFound}
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		l.observer.Observe(id, NotFound)
		return Result{Outcome: NotFound}
	}

	if now.After(e.lastSeen) {
		e.lastSeen = now
	}
	if !now.Before(e.windowStart.Add(e.window)) {
		e.windowStart = now
		e.count = 0
	}

	res := Result{
		Limit:   e.limit,
		ResetAt: e.windowStart.Add(e.window),
	}
	if e.count < e.limit {
		e.count++
		res.Outcome = Admitted
	} else {
		res.Outcome = Denied
		res.RetryAfter = res.ResetAt.Sub(now)
	}
	res.Remaining = e.limit - e.count
	e.mu.Unlock()

	l.observer.Observe(id, res.Outcome)
	return res
}

func (l *Limiter) CheckAndConsume(id string, now time.Time) Outcome {
	return l.Check(id, now).Outcome
}

// Allow is CheckAndConsume at the limiter clock's current time.
func (l *Limiter) Allow(id string) Outcome {
	return l.CheckAndConsume(id, l.clock.Now())
}
