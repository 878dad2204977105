package media

import (
	"context"
	"strings"
)

// Router sends blob references to the blob resolver and everything else
// to the web resolver.
type Router struct {
	Web  Resolver
	Blob Resolver
}

var _ Resolver = (*Router)(nil)

func (r *Router) pick(ref string) Resolver {
	if r.Blob != nil && strings.HasPrefix(ref, BlobScheme) {
		return r.Blob
	}
	return r.Web
}

func (r *Router) ResolveMetadata(ctx context.Context, ref string) (Metadata, error) {
	return r.pick(ref).ResolveMetadata(ctx, ref)
}

func (r *Router) ResolveStream(ctx context.Context, ref string) (Source, error) {
	return r.pick(ref).ResolveStream(ctx, ref)
}
