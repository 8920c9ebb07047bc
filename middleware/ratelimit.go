// Package middleware rate limits HTTP requests per client.
package middleware

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codetesla51/entitylimit/limiter"
)

// KeyFunc maps a request to the entity id it is limited under.
type KeyFunc func(r *http.Request) string

type config struct {
	keyFunc      KeyFunc
	autoRegister bool
	limit        int
	window       time.Duration
	logger       *zap.Logger
}

type Option func(*config)

func WithKeyFunc(fn KeyFunc) Option {
	return func(c *config) { c.keyFunc = fn }
}

// WithAutoRegister registers unknown clients with the given allowance on
// their first request instead of rejecting them.
func WithAutoRegister(limit int, window time.Duration) Option {
	return func(c *config) {
		c.autoRegister = true
		c.limit = limit
		c.window = window
	}
}

// WithTrustedProxies keys requests by X-Forwarded-For, but only when the
// direct peer is inside one of the given prefixes. Other peers are keyed by
// their own address.
func WithTrustedProxies(proxies ...netip.Prefix) Option {
	return func(c *config) { c.keyFunc = ForwardedClientIP(proxies) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// RateLimit admits or rejects each request through l.
//
// Admitted requests reach next with X-RateLimit-* headers set. Denied requests
// get 429 with Retry-After. Unknown clients get 403 unless auto registration
// is enabled.
func RateLimit(l limiter.RateLimiter, opts ...Option) func(http.Handler) http.Handler {
	cfg := &config{
		keyFunc: ClientIP,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := cfg.keyFunc(r)
			res := l.Check(id, l.Now())

			if res.Outcome == limiter.NotFound && cfg.autoRegister {
				err := l.RegisterEphemeral(id, cfg.limit, cfg.window)
				if err != nil && !errors.Is(err, limiter.ErrAlreadyRegistered) {
					cfg.logger.Error("auto registration failed", zap.String("entity", id), zap.Error(err))
					http.Error(w, "internal error", http.StatusInternalServerError)
					return
				}
				res = l.Check(id, l.Now())
			}

			switch res.Outcome {
			case limiter.Admitted:
				setHeaders(w, res)
				next.ServeHTTP(w, r)
			case limiter.Denied:
				setHeaders(w, res)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
				cfg.logger.Debug("request rate limited", zap.String("entity", id), zap.Duration("retry_after", res.RetryAfter))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			default:
				http.Error(w, "client not registered", http.StatusForbidden)
			}
		})
	}
}

func setHeaders(w http.ResponseWriter, res limiter.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// ClientIP keys a request by the address of its direct peer.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ForwardedClientIP returns a KeyFunc that honors X-Forwarded-For from trusted
// proxies. The chain is walked from the right and the first address that is
// not itself a trusted proxy is the client. Requests from untrusted peers fall
// back to ClientIP so a spoofed header has no effect.
func ForwardedClientIP(trusted []netip.Prefix) KeyFunc {
	isTrusted := func(s string) bool {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return false
		}
		addr = addr.Unmap()
		for _, p := range trusted {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}

	return func(r *http.Request) string {
		peer := ClientIP(r)
		xff := r.Header.Get("X-Forwarded-For")
		if xff == "" || !isTrusted(peer) {
			return peer
		}
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !isTrusted(hop) {
				return hop
			}
		}
		return peer
	}
}

// ParseTrustedProxies parses IP addresses and CIDR prefixes.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
