package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meditransport/medride/internal/models"
	"github.com/meditransport/medride/internal/routes"
	"github.com/meditransport/medride/internal/session"
)

func signedIn(role models.Role) *session.State {
	s := session.NewState()
	s.Authenticate(models.User{ID: "u-1", Role: role}, session.LoggedIn)
	return s
}

func TestAuth(t *testing.T) {
	assert.Equal(t, Decision{Allow: true}, Auth(signedIn(models.RolePatient))())
	assert.Equal(t, Decision{Redirect: routes.Login}, Auth(session.NewState())())
}

func TestRole(t *testing.T) {
	tests := []struct {
		name    string
		state   *session.State
		allowed []models.Role
		want    Decision
	}{
		{
			name:    "matching role passes",
			state:   signedIn(models.RoleDriver),
			allowed: []models.Role{models.RoleDriver},
			want:    Decision{Allow: true},
		},
		{
			name:    "any of several roles passes",
			state:   signedIn(models.RoleAdmin),
			allowed: []models.Role{models.RoleDriver, models.RoleAdmin},
			want:    Decision{Allow: true},
		},
		{
			name:    "patient on driver route goes to patient dashboard",
			state:   signedIn(models.RolePatient),
			allowed: []models.Role{models.RoleDriver},
			want:    Decision{Redirect: "/dashboard/patient"},
		},
		{
			name:    "driver on admin route goes to driver dashboard",
			state:   signedIn(models.RoleDriver),
			allowed: []models.Role{models.RoleAdmin},
			want:    Decision{Redirect: "/dashboard/driver"},
		},
		{
			name:    "no user goes to login",
			state:   session.NewState(),
			allowed: []models.Role{models.RoleDriver},
			want:    Decision{Redirect: "/auth/login"},
		},
		{
			name:    "empty role set denies everyone",
			state:   signedIn(models.RoleAdmin),
			allowed: nil,
			want:    Decision{Redirect: "/dashboard/admin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Role(tt.state, tt.allowed...)())
		})
	}
}

func TestRole_FollowsLogout(t *testing.T) {
	s := signedIn(models.RolePatient)
	g := Role(s, models.RolePatient)
	assert.True(t, g().Allow)

	s.Reset(session.LoggedOut)
	assert.Equal(t, Decision{Redirect: routes.Login}, g())
}
