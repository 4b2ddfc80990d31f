package vhost

import (
	"fmt"
	"strings"
)

// Registry holds every Host a server answers for and resolves an incoming
// Host header to one of them. The first Host registered is kept as the
// default, served whenever the Host header matches nothing else -
// mirroring the common virtual-hosting convention of a catch-all default
// server block.
type Registry struct {
	hosts   []*Host
	byName  map[string]*Host
	started bool
}

// NewRegistry returns an empty host registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Host)}
}

// Add registers host, rejecting a duplicate name or alias (mirroring the
// reference implementation's vhost_config duplicate-name guard) and any
// registration attempted after Start. Both host.Name and every entry of
// host.Aliases are indexed, so Lookup resolves aliases in O(1) instead of
// scanning every registered host.
func (r *Registry) Add(host *Host) error {
	if r.started {
		return fmt.Errorf("vhost: cannot add host %q after Start", host.Name)
	}
	keys := make([]string, 0, 1+len(host.Aliases))
	keys = append(keys, normalizeHostName(host.Name))
	for _, alias := range host.Aliases {
		keys = append(keys, normalizeHostName(alias))
	}
	for _, key := range keys {
		if _, exists := r.byName[key]; exists {
			return fmt.Errorf("vhost: duplicate host name or alias %q", key)
		}
	}
	for _, key := range keys {
		r.byName[key] = host
	}
	r.hosts = append(r.hosts, host)
	return nil
}

// Start freezes the registry against further Add calls.
func (r *Registry) Start() { r.started = true }

// Lookup finds the Host matching hostHeader (which may carry a trailing
// ":port", stripped before matching). Falls back to the first-registered
// host when no name or alias matches, and when hostHeader is empty (an
// HTTP/1.0 request with no Host header at all).
func (r *Registry) Lookup(hostHeader string) (*Host, bool) {
	if len(r.hosts) == 0 {
		return nil, false
	}
	name := hostHeader
	if idx := strings.LastIndexByte(name, ':'); idx != -1 {
		name = name[:idx]
	}
	name = normalizeHostName(name)

	if name != "" {
		if h, ok := r.byName[name]; ok {
			return h, true
		}
	}
	return r.hosts[0], true
}

// ByName returns the host registered under name, if any, without the
// first-host fallback Lookup applies.
func (r *Registry) ByName(name string) (*Host, bool) {
	h, ok := r.byName[normalizeHostName(name)]
	return h, ok
}

// All returns every registered host, in registration order.
func (r *Registry) All() []*Host {
	out := make([]*Host, len(r.hosts))
	copy(out, r.hosts)
	return out
}
