// Package tenantctx carries the active tenant handle through request
// contexts. Core operations receive the handle explicitly instead of
// relying on ambient "current schema" connection state.
package tenantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Ref identifies one tenant and its data-isolation schema.
type Ref struct {
	ID     snowflake.ID
	Schema string
}

type refKey struct{}

// WithRef stores the tenant handle in the context.
func WithRef(ctx context.Context, ref Ref) context.Context {
	return context.WithValue(ctx, refKey{}, ref)
}

// FromContext returns the tenant handle from context, if set.
func FromContext(ctx context.Context) (Ref, bool) {
	if ctx == nil {
		return Ref{}, false
	}
	ref, ok := ctx.Value(refKey{}).(Ref)
	if !ok || ref.ID == 0 || strings.TrimSpace(ref.Schema) == "" {
		return Ref{}, false
	}
	return ref, true
}
