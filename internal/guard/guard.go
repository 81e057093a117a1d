// Package guard decides whether navigation into a protected screen is allowed.
package guard

import (
	"github.com/meditransport/medride/internal/models"
	"github.com/meditransport/medride/internal/routes"
	"github.com/meditransport/medride/internal/session"
)

// Decision is the outcome of a guard. Redirect is set whenever Allow is false.
type Decision struct {
	Allow    bool
	Redirect string
}

// Guard is consulted by the router before activating a route
type Guard func() Decision

// Source is the read side of session state the guards consult
type Source interface {
	Snapshot() session.Snapshot
}

var allow = Decision{Allow: true}

// Auth allows authenticated sessions and sends everyone else to login
func Auth(src Source) Guard {
	return func() Decision {
		if src.Snapshot().IsAuthenticated {
			return allow
		}
		return Decision{Redirect: routes.Login}
	}
}

// Role allows authenticated users holding one of roles. A signed-in user with
// the wrong role goes to their own dashboard rather than to login, which would
// bounce straight back.
func Role(src Source, roles ...models.Role) Guard {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func() Decision {
		snap := src.Snapshot()
		if snap.IsAuthenticated && snap.User != nil {
			if _, ok := allowed[snap.User.Role]; ok {
				return allow
			}
		}
		if snap.User != nil {
			return Decision{Redirect: routes.DashboardFor(snap.User.Role)}
		}
		return Decision{Redirect: routes.Login}
	}
}
