package commands

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meditransport/medride/internal/routes"
)

// NewLogoutCmd creates a new logout command
func NewLogoutCmd(env *Env) *cobra.Command {
	var forget bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.Open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Auth.Logout(ctx); err != nil {
				return fmt.Errorf("logout failed: %w", err)
			}
			if forget {
				if err := s.Auth.ForgetEmail(ctx); err != nil {
					return fmt.Errorf("failed to forget email: %w", err)
				}
			}

			env.message("✓ Logged out")
			return nil
		},
	}

	cmd.Flags().BoolVar(&forget, "forget", false, "Also forget the remembered email")
	return cmd
}

// NewWhoamiCmd creates a new whoami command
func NewWhoamiCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.OpenAuthenticated(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			return renderUser(env, s.Auth.CurrentUser(), s.Router.Current().Path)
		},
	}
}

// NewRefreshCmd creates a new refresh command
func NewRefreshCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rotate the stored token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.OpenAuthenticated(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Auth.RefreshToken(ctx); err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}

			env.message("✓ Session refreshed")
			return nil
		},
	}
}

// NewDashCmd creates a new dash command
func NewDashCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Show the dashboard for the signed-in role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			route, ok := s.Auth.NavigateToRoleDashboard()
			if !ok {
				env.message("Not logged in. Run 'medride login' to reach your dashboard.")
				route = routes.Dashboard
			}
			return renderLocation(env, s.Router.Current().Path, route, nil)
		},
	}
}

// renderLocation prints where a navigation request ended up
func renderLocation(env *Env, current, requested string, params map[string]string) error {
	view := struct {
		Requested string            `json:"requested"`
		Current   string            `json:"current"`
		Params    map[string]string `json:"params,omitempty"`
	}{requested, current, params}

	return env.render(view, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Location:\t%s\n", current)
		if current != requested {
			fmt.Fprintf(w, "Requested:\t%s\n", requested)
		}
		for _, k := range slices.Sorted(maps.Keys(params)) {
			fmt.Fprintf(w, "%s:\t%s\n", k, params[k])
		}
	})
}
