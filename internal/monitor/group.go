package monitor

import (
	"context"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Group runs one Monitor per probe scheme and routes passive failure
// signals to the monitor matching the failed URL's scheme.
type Group struct {
	monitors []*Monitor
	byScheme map[string]*Monitor
}

// NewGroup creates a Group. The first monitor is the fallback for
// URLs whose scheme has no monitor of its own.
func NewGroup(monitors ...*Monitor) *Group {
	g := &Group{
		monitors: monitors,
		byScheme: make(map[string]*Monitor, len(monitors)),
	}
	for _, m := range monitors {
		g.byScheme[m.Scheme()] = m
	}
	return g
}

// Monitors returns the monitors in the group.
func (g *Group) Monitors() []*Monitor {
	return g.monitors
}

// ObserveFailure forwards a failed request to the matching monitor.
// Returns false when the URL is excluded or the group is empty.
func (g *Group) ObserveFailure(rawURL string) bool {
	m := g.route(rawURL)
	if m == nil {
		return false
	}
	return m.ObserveFailure(rawURL)
}

func (g *Group) route(rawURL string) *Monitor {
	if len(g.monitors) == 0 {
		return nil
	}
	if u, err := url.Parse(rawURL); err == nil {
		if m, ok := g.byScheme[strings.ToLower(u.Scheme)]; ok {
			return m
		}
	}
	return g.monitors[0]
}

// States returns a snapshot of every monitor.
func (g *Group) States() []State {
	states := make([]State, 0, len(g.monitors))
	for _, m := range g.monitors {
		states = append(states, m.State())
	}
	return states
}

// Run runs every monitor until ctx is canceled.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, m := range g.monitors {
		m := m
		eg.Go(func() error {
			return m.Run(ctx)
		})
	}
	return eg.Wait()
}
