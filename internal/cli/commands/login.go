package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meditransport/medride/internal/models"
)

// LoginOptions contains options for the login command
type LoginOptions struct {
	Email    string
	Password string
	Remember bool
	Forget   bool
}

// NewLoginCmd creates a new login command
func NewLoginCmd(env *Env) *cobra.Command {
	var opts LoginOptions

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to MediTransport",
		Long: `Sign in with your email and password.

The email defaults to the remembered one. The password is read from
MEDRIDE_PASSWORD or prompted for without echo.`,
		Example: `  # Interactive login
  medride login

  # Remember the email for next time
  medride login --email patient@demo.com --remember`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), env, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&opts.Password, "password", "", "Account password (prefer MEDRIDE_PASSWORD or the prompt)")
	cmd.Flags().BoolVar(&opts.Remember, "remember", false, "Remember the email for the next login")
	cmd.Flags().BoolVar(&opts.Forget, "forget", false, "Forget the remembered email")
	cmd.MarkFlagsMutuallyExclusive("remember", "forget")

	return cmd
}

func runLogin(ctx context.Context, env *Env, opts LoginOptions) error {
	s, err := env.Open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	email := firstNonEmpty(opts.Email, os.Getenv("MEDRIDE_EMAIL"))
	if email == "" {
		remembered, err := s.Auth.RememberedEmail(ctx)
		if err != nil {
			return fmt.Errorf("failed to read remembered email: %w", err)
		}
		email = remembered
	}
	if email == "" {
		if email, err = env.Prompter.Input("Email"); err != nil {
			return err
		}
	}

	password := firstNonEmpty(opts.Password, os.Getenv("MEDRIDE_PASSWORD"))
	if password == "" {
		if password, err = env.Prompter.Password("Password"); err != nil {
			return err
		}
	}

	resp, err := s.Auth.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	switch {
	case opts.Remember:
		err = s.Auth.RememberEmail(ctx, email)
	case opts.Forget:
		err = s.Auth.ForgetEmail(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to update remembered email: %w", err)
	}

	env.message("✓ Login successful!")
	return renderUser(env, &resp.User, s.Router.Current().Path)
}

// renderUser prints a user with the screen the session landed on
func renderUser(env *Env, u *models.User, route string) error {
	view := struct {
		*models.User
		Route string `json:"route"`
	}{u, route}

	return env.render(view, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Name:\t%s\n", u.Name)
		fmt.Fprintf(w, "Email:\t%s\n", u.Email)
		fmt.Fprintf(w, "Role:\t%s\n", u.Role)
		if u.DriverInfo != nil {
			fmt.Fprintf(w, "License:\t%s\n", u.DriverInfo.LicenseNumber)
			fmt.Fprintf(w, "Vehicle:\t%s\n", u.DriverInfo.VehicleType)
		}
		fmt.Fprintf(w, "Dashboard:\t%s\n", route)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
