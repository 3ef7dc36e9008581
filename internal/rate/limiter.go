// Package rate implementa rate limiting de ventana fija sobre el cache
// compartido (redis o memoria).
package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/hellojohn-identity/internal/cache"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// FixedWindow: fixed window sencillo (INCR + EXPIRE por ventana).
type FixedWindow struct {
	counter cache.Client
	prefix  string
	max     int64
	window  time.Duration
	now     func() time.Time
}

func NewFixedWindow(counter cache.Client, prefix string, max int, window time.Duration) *FixedWindow {
	if prefix == "" {
		prefix = "rl:"
	}
	return &FixedWindow{counter: counter, prefix: prefix, max: int64(max), window: window, now: time.Now}
}

func (l *FixedWindow) Allow(ctx context.Context, key string) (Result, error) {
	winStart := l.now().UTC().Truncate(l.window)
	k := fmt.Sprintf("%s%s:%d", l.prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	hits, ttl, err := l.counter.Incr(ctx, k, l.window)
	if err != nil {
		return Result{}, err
	}

	res := Result{Allowed: hits <= l.max, CurrentHits: hits}
	if rem := l.max - hits; rem > 0 {
		res.Remaining = rem
	}
	if !res.Allowed {
		// Retry after: resto de la ventana
		res.RetryAfter = ttl
		if res.RetryAfter <= 0 {
			res.RetryAfter = winStart.Add(l.window).Sub(l.now().UTC())
		}
	}
	return res, nil
}
