// Package router resolves navigation requests against the route table and
// applies route guards before activating a screen.
package router

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/meditransport/medride/internal/guard"
	"github.com/meditransport/medride/internal/models"
	"github.com/meditransport/medride/internal/routes"
)

const maxRedirects = 5

// ErrRedirectLoop is returned when guards keep redirecting
var ErrRedirectLoop = errors.New("too many navigation redirects")

// Route binds a path pattern to the guards that must pass to activate it
type Route struct {
	Pattern string
	Guards  []guard.Guard
}

// Location is an activated route
type Location struct {
	Path    string
	Pattern string
	Params  map[string]string
}

// Router tracks the current location
type Router struct {
	routes   []Route
	fallback string
	logger   zerolog.Logger

	mu        sync.Mutex
	current   Location
	listeners []func(Location)
}

// New builds the application route table on top of the session source
func New(src guard.Source, logger zerolog.Logger) *Router {
	authed := guard.Auth(src)
	role := func(r models.Role) guard.Guard { return guard.Role(src, r) }

	table := []Route{
		{Pattern: routes.Welcome},
		{Pattern: routes.Login},
		{Pattern: routes.Register},
		{Pattern: routes.Dashboard, Guards: []guard.Guard{authed}},
		{Pattern: routes.PatientDashboard, Guards: []guard.Guard{authed, role(models.RolePatient)}},
		{Pattern: routes.DriverDashboard, Guards: []guard.Guard{authed, role(models.RoleDriver)}},
		{Pattern: routes.AdminDashboard, Guards: []guard.Guard{authed, role(models.RoleAdmin)}},
		{Pattern: routes.BookRide, Guards: []guard.Guard{authed, role(models.RolePatient)}},
		{Pattern: routes.RideHistory, Guards: []guard.Guard{authed}},
		{Pattern: routes.RideDetails, Guards: []guard.Guard{authed}},
		{Pattern: routes.RideTracking, Guards: []guard.Guard{authed}},
		{Pattern: routes.Profile, Guards: []guard.Guard{authed}},
		{Pattern: routes.PaymentHistory, Guards: []guard.Guard{authed}},
		{Pattern: routes.PaymentProcess, Guards: []guard.Guard{authed}},
	}
	return NewWithRoutes(table, routes.Welcome, logger)
}

// NewWithRoutes creates a router over an explicit table. Unknown paths go to
// fallback.
func NewWithRoutes(table []Route, fallback string, logger zerolog.Logger) *Router {
	return &Router{
		routes:   table,
		fallback: fallback,
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// Current returns the active location
func (r *Router) Current() Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// OnNavigate registers fn to be called after every completed navigation
func (r *Router) OnNavigate(fn func(Location)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Navigate resolves path, follows guard redirects and activates the final route
func (r *Router) Navigate(path string) error {
	target := path
	for hop := 0; hop <= maxRedirects; hop++ {
		route, params, ok := r.match(target)
		if !ok {
			r.logger.Debug().Str("path", target).Str("redirect", r.fallback).Msg("No route matched")
			target = r.fallback
			continue
		}

		redirect, allowed := r.check(route)
		if !allowed {
			r.logger.Debug().
				Str("path", target).
				Str("redirect", redirect).
				Msg("Navigation denied by guard")
			target = redirect
			continue
		}

		loc := Location{Path: cleanPath(target), Pattern: route.Pattern, Params: params}
		r.activate(loc)
		return nil
	}
	return fmt.Errorf("navigate to %s: %w", path, ErrRedirectLoop)
}

func (r *Router) check(route Route) (string, bool) {
	for _, g := range route.Guards {
		d := g()
		if !d.Allow {
			return d.Redirect, false
		}
	}
	return "", true
}

func (r *Router) activate(loc Location) {
	r.mu.Lock()
	r.current = loc
	listeners := make([]func(Location), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	r.logger.Debug().Str("path", loc.Path).Msg("Navigated")
	for _, fn := range listeners {
		fn(loc)
	}
}

func (r *Router) match(path string) (Route, map[string]string, bool) {
	segs := segments(path)
	if len(segs) == 0 {
		return Route{}, nil, false
	}

	for _, route := range r.routes {
		pattern := segments(route.Pattern)
		if len(pattern) != len(segs) {
			continue
		}

		params := map[string]string{}
		matched := true
		for i, p := range pattern {
			if strings.HasPrefix(p, ":") {
				params[p[1:]] = segs[i]
				continue
			}
			if p != segs[i] {
				matched = false
				break
			}
		}
		if matched {
			return route, params, true
		}
	}
	return Route{}, nil, false
}

func segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cleanPath(path string) string {
	return "/" + strings.Join(segments(path), "/")
}
