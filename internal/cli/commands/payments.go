package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meditransport/medride/internal/models"
	"github.com/meditransport/medride/internal/routes"
)

// NewPaymentsCmd creates the payments command group
func NewPaymentsCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Pay for rides and review payments",
	}
	cmd.AddCommand(newPaymentsHistoryCmd(env), newPaymentsPayCmd(env))
	return cmd
}

func newPaymentsHistoryCmd(env *Env) *cobra.Command {
	var page, limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.OpenAuthenticated(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := enter(s, routes.PaymentHistory); err != nil {
				return err
			}
			payments, err := s.API.PaymentHistory(ctx, page, limit)
			if err != nil {
				return fmt.Errorf("failed to load payment history: %w", err)
			}
			if payments == nil {
				payments = []models.Payment{}
			}

			return env.render(payments, func(w *tabwriter.Writer) {
				if len(payments) == 0 {
					fmt.Fprintln(w, "No payments found.")
					return
				}
				fmt.Fprintln(w, "ID\tRIDE\tAMOUNT\tSTATUS\tCREATED")
				for _, p := range payments {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						p.ID, p.RideID, formatAmount(p.Amount, p.Currency), p.Status,
						p.CreatedAt.Local().Format("2006-01-02 15:04"))
				}
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 10, "Payments per page")
	return cmd
}

func newPaymentsPayCmd(env *Env) *cobra.Command {
	var req models.CreatePaymentIntentRequest

	cmd := &cobra.Command{
		Use:   "pay <ride-id>",
		Short: "Create and confirm a payment for a ride",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.RideID = args[0]
			return runPay(cmd.Context(), env, req)
		},
	}

	cmd.Flags().Int64Var(&req.Amount, "amount", 0, "Amount in minor units (cents)")
	cmd.Flags().StringVar(&req.Currency, "currency", "usd", "ISO currency code")
	cmd.Flags().StringVar(&req.PaymentMethodID, "method", "", "Payment method id")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func runPay(ctx context.Context, env *Env, req models.CreatePaymentIntentRequest) error {
	s, err := env.OpenAuthenticated(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := enter(s, strings.Replace(routes.PaymentProcess, ":rideId", req.RideID, 1)); err != nil {
		return err
	}

	intent, err := s.API.CreatePaymentIntent(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	confirmed, err := s.API.ConfirmPayment(ctx, intent.ID)
	if err != nil {
		return fmt.Errorf("failed to confirm payment %s: %w", intent.ID, err)
	}
	intent = confirmed

	env.message("✓ Payment %s", intent.Status)
	return env.render(intent, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "ID:\t%s\n", intent.ID)
		fmt.Fprintf(w, "Amount:\t%s\n", formatAmount(intent.Amount, intent.Currency))
		fmt.Fprintf(w, "Status:\t%s\n", intent.Status)
	})
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, strings.ToUpper(currency))
}
