package router

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditransport/medride/internal/guard"
	"github.com/meditransport/medride/internal/models"
	"github.com/meditransport/medride/internal/session"
)

func newRouter(t *testing.T, state *session.State) *Router {
	t.Helper()
	return New(state, zerolog.Nop())
}

func TestNavigate_PublicRoutes(t *testing.T) {
	r := newRouter(t, session.NewState())

	require.NoError(t, r.Navigate("/auth/login"))
	assert.Equal(t, "/auth/login", r.Current().Path)
}

func TestNavigate_EmptyAndUnknownGoToWelcome(t *testing.T) {
	r := newRouter(t, session.NewState())

	for _, path := range []string{"", "/", "/no/such/screen"} {
		require.NoError(t, r.Navigate(path))
		assert.Equal(t, "/welcome", r.Current().Path, "path %q", path)
	}
}

func TestNavigate_UnauthenticatedRedirectsToLogin(t *testing.T) {
	r := newRouter(t, session.NewState())

	require.NoError(t, r.Navigate("/rides/history"))
	assert.Equal(t, "/auth/login", r.Current().Path)
}

func TestNavigate_WrongRoleLandsOnOwnDashboard(t *testing.T) {
	state := session.NewState()
	state.Authenticate(models.User{ID: "p", Role: models.RolePatient}, session.LoggedIn)
	r := newRouter(t, state)

	require.NoError(t, r.Navigate("/dashboard/driver"))
	assert.Equal(t, "/dashboard/patient", r.Current().Path)

	require.NoError(t, r.Navigate("/rides/book"))
	assert.Equal(t, "/rides/book", r.Current().Path)
}

func TestNavigate_DriverCannotBookRides(t *testing.T) {
	state := session.NewState()
	state.Authenticate(models.User{ID: "d", Role: models.RoleDriver}, session.LoggedIn)
	r := newRouter(t, state)

	require.NoError(t, r.Navigate("/rides/book"))
	assert.Equal(t, "/dashboard/driver", r.Current().Path)
}

func TestNavigate_Params(t *testing.T) {
	state := session.NewState()
	state.Authenticate(models.User{ID: "p", Role: models.RolePatient}, session.LoggedIn)
	r := newRouter(t, state)

	require.NoError(t, r.Navigate("/rides/tracking/01HZX"))
	loc := r.Current()
	assert.Equal(t, "/rides/tracking/:id", loc.Pattern)
	assert.Equal(t, "01HZX", loc.Params["id"])
}

func TestNavigate_RedirectLoop(t *testing.T) {
	deny := func(to string) guard.Guard {
		return func() guard.Decision { return guard.Decision{Redirect: to} }
	}
	r := NewWithRoutes([]Route{
		{Pattern: "/a", Guards: []guard.Guard{deny("/b")}},
		{Pattern: "/b", Guards: []guard.Guard{deny("/a")}},
	}, "/a", zerolog.Nop())

	err := r.Navigate("/a")
	assert.ErrorIs(t, err, ErrRedirectLoop)
}

func TestOnNavigate(t *testing.T) {
	r := newRouter(t, session.NewState())

	var seen []string
	r.OnNavigate(func(loc Location) { seen = append(seen, loc.Path) })

	require.NoError(t, r.Navigate("/welcome"))
	require.NoError(t, r.Navigate("/profile"))
	assert.Equal(t, []string{"/welcome", "/auth/login"}, seen)
}
