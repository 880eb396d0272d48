// Package coalesce shares one in-flight call among concurrent callers that
// ask for the same thing.
package coalesce

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
)

// DefaultTimeout bounds a shared call once it is detached from its callers.
const DefaultTimeout = 2 * time.Minute

// Group is a registry of pending calls keyed by request. An entry exists
// only while its call runs; it is removed the moment the call settles.
type Group struct {
	sf      singleflight.Group
	scope   string
	timeout time.Duration
	metrics *observability.Metrics
}

// NewGroup creates a Group. scope labels coalescing metrics; timeout <= 0
// uses DefaultTimeout.
func NewGroup(scope string, timeout time.Duration, metrics *observability.Metrics) *Group {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Group{scope: scope, timeout: timeout, metrics: metrics}
}

// Do runs fn once per key among concurrent callers and hands every caller
// the same result. shared reports whether the result went to more than one
// caller.
//
// fn runs on a context detached from the caller's cancellation and bounded
// by the group timeout. A caller whose ctx ends gets ctx.Err() right away;
// the call keeps running so the other waiters still receive its result.
func Do[T any](ctx context.Context, g *Group, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	var zero T

	ch := g.sf.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return fn(callCtx)
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Shared {
			g.metrics.RecordCoalesced(g.scope)
		}
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		v, _ := res.Val.(T)
		return v, res.Shared, nil
	}
}

// Key builds a request key from its parts: each part is trimmed and
// lowercased and the parts are joined with "|".
func Key(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(normalized, "|")
}
