package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meditransport/medride/internal/models"
)

var roleChoices = []string{string(models.RolePatient), string(models.RoleDriver), string(models.RoleAdmin)}

// NewRegisterCmd creates a new register command
func NewRegisterCmd(env *Env) *cobra.Command {
	var req models.RegisterRequest
	var role string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a MediTransport account and sign in",
		Example: `  # Register a driver
  medride register --name "Dana Driver" --email dana@example.com --role driver \
    --license DL1234567 --vehicle wheelchair-van`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Role = models.Role(role)
			return runRegister(cmd.Context(), env, req)
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "Full name")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&role, "role", "", "Account role: patient, driver or admin")
	cmd.Flags().StringVar(&req.LicenseNumber, "license", "", "Driver license number (drivers only)")
	cmd.Flags().StringVar(&req.VehicleType, "vehicle", "", "Vehicle type (drivers only)")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password (prefer MEDRIDE_PASSWORD or the prompt)")

	return cmd
}

func runRegister(ctx context.Context, env *Env, req models.RegisterRequest) error {
	var err error
	ask := func(field *string, label string) {
		if err == nil && *field == "" {
			*field, err = env.Prompter.Input(label)
		}
	}

	ask(&req.Name, "Full name")
	ask(&req.Email, "Email")
	if err == nil && req.Role == "" {
		var role string
		role, err = env.Prompter.Select("Select account type", roleChoices)
		req.Role = models.Role(role)
	}
	if req.Role == models.RoleDriver {
		ask(&req.LicenseNumber, "Driver license number")
		ask(&req.VehicleType, "Vehicle type")
	}
	if err != nil {
		return err
	}

	req.Password = firstNonEmpty(req.Password, os.Getenv("MEDRIDE_PASSWORD"))
	if req.Password == "" {
		if req.Password, err = env.Prompter.Password("Password"); err != nil {
			return err
		}
		if req.ConfirmPassword, err = env.Prompter.Password("Confirm password"); err != nil {
			return err
		}
	} else {
		req.ConfirmPassword = req.Password
	}

	s, err := env.Open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := s.Auth.Register(ctx, req)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	env.message("✓ Account created")
	return renderUser(env, &resp.User, s.Router.Current().Path)
}
