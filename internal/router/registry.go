package router

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownRouterType means a subscriber record names a router_type no
// configured backend serves. This is a configuration-class error, not a
// delivery failure.
var ErrUnknownRouterType = errors.New("unknown router type")

// Registry is the static router_type -> backend mapping, built once at
// startup. Lookup is pure and side-effect-free.
type Registry struct {
	routers map[string]Router
}

func NewRegistry(routers ...Router) (*Registry, error) {
	m := make(map[string]Router, len(routers))
	for _, r := range routers {
		t := r.Type()
		if t == "" {
			return nil, errors.New("router with empty type")
		}
		if _, ok := m[t]; ok {
			return nil, fmt.Errorf("duplicate router type %q", t)
		}
		m[t] = r
	}
	return &Registry{routers: m}, nil
}

// Resolve returns the backend serving routerType.
func (g *Registry) Resolve(routerType string) (Router, error) {
	r, ok := g.routers[routerType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRouterType, routerType)
	}
	return r, nil
}

// Types lists the registered router types, sorted. Used for startup
// logging and config validation.
func (g *Registry) Types() []string {
	out := make([]string, 0, len(g.routers))
	for t := range g.routers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
