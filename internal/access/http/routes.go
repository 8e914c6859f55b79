package accesshttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/horsemanagement/stablegate/internal/access"
)

// MountRoutes registers the access API and one gated backend route group
// per catalogue feature. Admin-only features require the feature for every
// method; the others only for writes, except on upstreams marked read. The
// permission editor lives under the users feature and is only mounted when
// the catalogue declares it.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/features", h.listFeatures)
	r.Get("/access", h.currentAccess)
	r.Post("/screens/{feature}/mount", h.mountScreen)
	r.Delete("/session", h.logout)

	for _, spec := range h.gate.Catalogue().Features() {
		r.Route("/"+string(spec.Name), func(r chi.Router) {
			if spec.AdminOnly {
				r.Use(h.mw.RequireFeature(spec.Name))
			}
			if spec.Name == access.FeatureUsers {
				r.Group(func(r chi.Router) {
					if !spec.AdminOnly {
						r.Use(h.mw.RequireFeature(spec.Name))
					}
					r.Get("/{id}/permissions", h.getPermissions)
					r.Put("/{id}/permissions", h.putPermissions)
				})
			}
			if h.upstream != nil {
				h.mountUpstreams(r, spec)
			}
		})
	}
}

// mountUpstreams registers sub-mounted upstreams before the feature root so
// their static prefixes win over the root wildcard.
func (h *Handler) mountUpstreams(r chi.Router, spec access.FeatureSpec) {
	var root *access.Upstream
	for i, up := range spec.Upstreams {
		if up.Mount == "" {
			root = &spec.Upstreams[i]
			continue
		}
		r.Route(up.Mount, h.serveUpstream(spec, up))
	}
	if root != nil {
		r.Group(h.serveUpstream(spec, *root))
	}
}

func (h *Handler) serveUpstream(spec access.FeatureSpec, up access.Upstream) func(chi.Router) {
	backend := h.upstream.For(up.Path)
	return func(r chi.Router) {
		if !spec.AdminOnly {
			r.Use(h.upstreamGuard(spec.Name, up))
		}
		r.Handle("/", backend)
		r.Handle("/*", backend)
	}
}

func (h *Handler) upstreamGuard(feature access.Feature, up access.Upstream) func(http.Handler) http.Handler {
	if up.Read {
		return h.mw.RequireAuthenticated(feature)
	}
	return h.mw.GuardWrites(feature)
}
