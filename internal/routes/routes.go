// Package routes names the navigation destinations of the app.
package routes

import "github.com/meditransport/medride/internal/models"

const (
	Welcome          = "/welcome"
	Login            = "/auth/login"
	Register         = "/auth/register"
	Dashboard        = "/dashboard"
	PatientDashboard = "/dashboard/patient"
	DriverDashboard  = "/dashboard/driver"
	AdminDashboard   = "/dashboard/admin"
	BookRide         = "/rides/book"
	RideHistory      = "/rides/history"
	RideDetails      = "/rides/details/:id"
	RideTracking     = "/rides/tracking/:id"
	Profile          = "/profile"
	PaymentHistory   = "/payments/history"
	PaymentProcess   = "/payments/process/:rideId"
)

// DashboardFor returns the dashboard of role, or the generic dashboard
func DashboardFor(role models.Role) string {
	switch role {
	case models.RolePatient:
		return PatientDashboard
	case models.RoleDriver:
		return DriverDashboard
	case models.RoleAdmin:
		return AdminDashboard
	default:
		return Dashboard
	}
}
