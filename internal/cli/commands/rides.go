package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meditransport/medride/internal/app"
	"github.com/meditransport/medride/internal/models"
	"github.com/meditransport/medride/internal/routes"
)

// ErrRouteDenied is returned when a guard redirects away from the requested screen
var ErrRouteDenied = errors.New("not available to this account")

// enter activates path and fails when a guard sends the session elsewhere
func enter(s *app.Session, path string) error {
	if err := s.Router.Navigate(path); err != nil {
		return err
	}
	if current := s.Router.Current().Path; current != path {
		return fmt.Errorf("%s: %w (redirected to %s)", path, ErrRouteDenied, current)
	}
	return nil
}

// NewOpenCmd creates a new open command
func NewOpenCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Navigate to a screen, applying its route guards",
		Example: `  medride open /rides/book
  medride open /rides/details/01HZX3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Router.Navigate(args[0]); err != nil {
				return err
			}
			loc := s.Router.Current()
			return renderLocation(env, loc.Path, args[0], loc.Params)
		},
	}
}

// NewRidesCmd creates the rides command group
func NewRidesCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rides",
		Short: "Book and inspect rides",
	}
	cmd.AddCommand(newRidesListCmd(env), newRidesShowCmd(env), newRidesBookCmd(env))
	return cmd
}

func newRidesListCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your rides",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.OpenAuthenticated(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := enter(s, routes.RideHistory); err != nil {
				return err
			}
			rides, err := s.API.ListRides(ctx)
			if err != nil {
				return fmt.Errorf("failed to list rides: %w", err)
			}
			return renderRides(env, rides)
		},
	}
}

func newRidesShowCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <ride-id>",
		Short: "Show one ride",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.OpenAuthenticated(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := enter(s, strings.Replace(routes.RideDetails, ":id", args[0], 1)); err != nil {
				return err
			}
			ride, err := s.API.GetRide(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get ride: %w", err)
			}
			return renderRide(env, ride)
		},
	}
}

// BookOptions contains options for the rides book command
type BookOptions struct {
	Pickup      models.Location
	Dropoff     models.Location
	At          string
	Vehicle     string
	Passengers  int
	Payment     string
	Fare        float64
	Notes       string
	EmergencyTo string
}

func newRidesBookCmd(env *Env) *cobra.Command {
	var opts BookOptions

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a ride (patients only)",
		Example: `  medride rides book --pickup "1 Main St" --pickup-lat 40.71 --pickup-lng -74.0 \
    --dropoff "City Hospital" --dropoff-lat 40.75 --dropoff-lng -73.98 \
    --at 2026-11-02T09:30:00Z --vehicle wheelchair-van`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBook(cmd.Context(), env, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Pickup.Address, "pickup", "", "Pickup address")
	f.Float64Var(&opts.Pickup.Lat, "pickup-lat", 0, "Pickup latitude")
	f.Float64Var(&opts.Pickup.Lng, "pickup-lng", 0, "Pickup longitude")
	f.StringVar(&opts.Dropoff.Address, "dropoff", "", "Dropoff address")
	f.Float64Var(&opts.Dropoff.Lat, "dropoff-lat", 0, "Dropoff latitude")
	f.Float64Var(&opts.Dropoff.Lng, "dropoff-lng", 0, "Dropoff longitude")
	f.StringVar(&opts.At, "at", "", "Scheduled pickup time (RFC 3339)")
	f.StringVar(&opts.Vehicle, "vehicle", "standard", "Vehicle type")
	f.IntVar(&opts.Passengers, "passengers", 1, "Passenger count")
	f.StringVar(&opts.Payment, "payment", "card", "Payment method")
	f.Float64Var(&opts.Fare, "fare", 0, "Estimated fare")
	f.StringVar(&opts.Notes, "notes", "", "Special requirements")
	f.StringVar(&opts.EmergencyTo, "emergency-contact", "", "Emergency contact")
	_ = cmd.MarkFlagRequired("pickup")
	_ = cmd.MarkFlagRequired("dropoff")
	_ = cmd.MarkFlagRequired("at")

	return cmd
}

func runBook(ctx context.Context, env *Env, opts BookOptions) error {
	at, err := time.Parse(time.RFC3339, opts.At)
	if err != nil {
		return fmt.Errorf("invalid --at: %w", err)
	}

	s, err := env.OpenAuthenticated(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := enter(s, routes.BookRide); err != nil {
		return err
	}

	ride, err := s.API.CreateRide(ctx, models.RideBookingRequest{
		PickupLocation:      opts.Pickup,
		DropoffLocation:     opts.Dropoff,
		ScheduledTime:       at,
		VehicleType:         opts.Vehicle,
		PassengerCount:      opts.Passengers,
		SpecialRequirements: opts.Notes,
		EmergencyContact:    opts.EmergencyTo,
		PaymentMethod:       opts.Payment,
		EstimatedFare:       opts.Fare,
	})
	if err != nil {
		return fmt.Errorf("failed to book ride: %w", err)
	}

	env.message("✓ Ride booked")
	return renderRide(env, ride)
}

func renderRides(env *Env, rides []models.Ride) error {
	if rides == nil {
		rides = []models.Ride{}
	}
	return env.render(rides, func(w *tabwriter.Writer) {
		if len(rides) == 0 {
			fmt.Fprintln(w, "No rides found.")
			return
		}
		fmt.Fprintln(w, "ID\tSTATUS\tSCHEDULED\tPICKUP\tDROPOFF\tVEHICLE")
		for _, r := range rides {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Status, r.ScheduledTime.Local().Format("2006-01-02 15:04"),
				r.PickupLocation.Address, r.DropoffLocation.Address, r.VehicleType)
		}
	})
}

func renderRide(env *Env, r *models.Ride) error {
	return env.render(r, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "ID:\t%s\n", r.ID)
		fmt.Fprintf(w, "Status:\t%s\n", r.Status)
		fmt.Fprintf(w, "Scheduled:\t%s\n", r.ScheduledTime.Local().Format(time.RFC1123))
		fmt.Fprintf(w, "Pickup:\t%s\n", r.PickupLocation.Address)
		fmt.Fprintf(w, "Dropoff:\t%s\n", r.DropoffLocation.Address)
		fmt.Fprintf(w, "Vehicle:\t%s\n", r.VehicleType)
		fmt.Fprintf(w, "Passengers:\t%d\n", r.PassengerCount)
		fmt.Fprintf(w, "Fare:\t%.2f\n", r.EstimatedFare)
	})
}
