package storage

import (
	"context"
	"net/url"
)

// Router owns the configured backends and picks the one responsible for a ref.
// The remote backend is optional.
type Router struct {
	local  Backend
	remote Backend
}

func NewRouter(local, remote Backend) *Router {
	return &Router{local: local, remote: remote}
}

// IsAbsoluteURL reports whether ref parses as a URL with both scheme and host.
func IsAbsoluteURL(ref string) bool {
	u, err := url.Parse(ref)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Route classifies an untagged ref: URLs are remote, everything else local.
func Route(ref string) Kind {
	if IsAbsoluteURL(ref) {
		return KindRemote
	}
	return KindLocal
}

// RouteTagged prefers the persisted tag and only sniffs legacy untagged refs.
func RouteTagged(tag Kind, ref string) Kind {
	if k := ParseKind(string(tag)); k != "" {
		return k
	}
	return Route(ref)
}

// RemoteEnabled reports whether a remote backend is configured.
func (r *Router) RemoteEnabled() bool { return r.remote != nil }

// Writer is the backend new uploads go to: remote when configured, local otherwise.
func (r *Router) Writer() Backend {
	if r.remote != nil {
		return r.remote
	}
	return r.local
}

// Backend returns the backend for kind or ErrBackendUnavailable.
func (r *Router) Backend(kind Kind) (Backend, error) {
	switch kind {
	case KindLocal:
		if r.local != nil {
			return r.local, nil
		}
	case KindRemote:
		if r.remote != nil {
			return r.remote, nil
		}
	}
	return nil, ErrBackendUnavailable
}

// ResolveForDisplay returns a browser URL for ref. Remote URLs pass through
// unchanged even when no remote backend is configured any more.
func (r *Router) ResolveForDisplay(tag Kind, ref string) string {
	kind := RouteTagged(tag, ref)
	if kind == KindRemote && IsAbsoluteURL(ref) {
		return ref
	}
	b, err := r.Backend(kind)
	if err != nil {
		return ref
	}
	return b.ResolveURL(ref)
}

// Delete removes ref from whichever backend owns it.
func (r *Router) Delete(ctx context.Context, tag Kind, ref string) error {
	b, err := r.Backend(RouteTagged(tag, ref))
	if err != nil {
		return &Error{Op: "delete", Ref: ref, Err: err}
	}
	return b.Delete(ctx, ref)
}
