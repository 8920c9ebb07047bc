package limiter

import "time"

// Outcome is the result of a single admission check.
type Outcome int

const (
	NotFound Outcome = iota
	Admitted
	Denied
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Denied:
		return "denied"
	default:
		return "not_found"
	}
}

// Result carries the decision together with the window it was made in.
// Limit, Remaining and ResetAt are zero when Outcome is NotFound.
type Result struct {
	Outcome    Outcome
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (r Result) Allowed() bool { return r.Outcome == Admitted }

// RateLimiter is the surface consumed by the HTTP middleware and admin API.
type RateLimiter interface {
	Register(id string, limit int, window time.Duration) error
	RegisterEphemeral(id string, limit int, window time.Duration) error
	Replace(id string, limit int, window time.Duration) error
	Lookup(id string) (State, error)
	Remove(id string) error
	Check(id string, now time.Time) Result
	Now() time.Time
}

// Observer is notified after every admission decision.
type Observer interface {
	Observe(id string, outcome Outcome)
}

type nopObserver struct{}

func (nopObserver) Observe(string, Outcome) {}
