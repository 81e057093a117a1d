package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/meditransport/medride/internal/app"
	"github.com/meditransport/medride/internal/realtime"
)

// ListenOptions contains options for the listen command
type ListenOptions struct {
	Rides []string
	Count int
}

// streamEvent is one line of listen output
type streamEvent struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
	Data  any       `json:"data"`
}

type connectionState struct {
	Connected bool `json:"connected"`
}

// NewListenCmd creates a new listen command
func NewListenCmd(env *Env) *cobra.Command {
	var opts ListenOptions

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream realtime ride events until interrupted or the connection is lost",
		Example: `  # Follow one ride
  medride listen --ride 01HZX3

  # Serve session metrics while listening
  medride listen --metrics-addr 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd.Context(), env, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Rides, "ride", nil, "Ride room to join (repeatable)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "Exit after this many events (0 streams forever)")
	return cmd
}

func runListen(ctx context.Context, env *Env, opts ListenOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := env.OpenAuthenticated(ctx, app.WithRealtime())
	if err != nil {
		return err
	}
	defer s.Close()

	go func() {
		if err := s.ServeMetrics(ctx); err != nil {
			s.Logger.Error().Err(err).Msg("Metrics endpoint stopped")
		}
	}()

	events := make(chan streamEvent, 64)
	push := func(name string) func(any) {
		return func(data any) {
			select {
			case events <- streamEvent{Event: name, At: time.Now(), Data: data}:
			default:
				s.Logger.Warn().Str("event", name).Msg("Dropping realtime event, output is behind")
			}
		}
	}

	closed := make(chan error, 1)
	ch := s.Realtime
	for _, unsubscribe := range []func(){
		ch.OnClosed(func(err error) {
			select {
			case closed <- err:
			default:
			}
		}),
		ch.OnConnectionChange(func(connected bool) { push("connection")(connectionState{connected}) }),
		ch.OnRideUpdate(func(v realtime.RideUpdate) { push(realtime.EventRideStatusUpdate)(v) }),
		ch.OnLocationUpdate(func(v realtime.LocationUpdate) { push(realtime.EventLocationUpdate)(v) }),
		ch.OnDriverStatus(func(v realtime.DriverStatus) { push(realtime.EventDriverStatusUpdate)(v) }),
		ch.OnNotification(func(v realtime.Notification) { push(realtime.EventRideNotification)(v) }),
		ch.OnSystemStatus(func(v realtime.SystemStatus) { push(realtime.EventSystemStatus)(v) }),
	} {
		defer unsubscribe()
	}
	if err := ch.Err(); err != nil {
		return fmt.Errorf("realtime connection closed: %w", err)
	}
	if ch.IsConnected() {
		push("connection")(connectionState{true})
	}

	out := newEventWriter(env)
	seen := 0
	var last connectionState
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-closed:
			return fmt.Errorf("realtime connection closed: %w", err)
		case ev := <-events:
			if state, ok := ev.Data.(connectionState); ok {
				if state == last {
					continue
				}
				last = state
			}
			if last.Connected && ev.Event == "connection" {
				for _, rideID := range opts.Rides {
					if err := ch.JoinRideRoom(ctx, rideID); err != nil {
						return fmt.Errorf("failed to join ride %s: %w", rideID, err)
					}
				}
			}
			if err := out(ev); err != nil {
				return err
			}
			seen++
			if opts.Count > 0 && seen >= opts.Count {
				return nil
			}
		}
	}
}

// newEventWriter returns a writer for the selected format: one line per
// event for table and json, one document per event for yaml
func newEventWriter(env *Env) func(streamEvent) error {
	switch env.Output {
	case formatJSON:
		enc := json.NewEncoder(env.Out)
		return func(ev streamEvent) error { return enc.Encode(ev) }
	case formatYAML:
		return func(ev streamEvent) error {
			if _, err := fmt.Fprintln(env.Out, "---"); err != nil {
				return err
			}
			return writeYAML(env.Out, ev)
		}
	default:
		return func(ev streamEvent) error {
			data, err := json.Marshal(ev.Data)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(env.Out, "%s  %-22s %s\n", ev.At.Format("15:04:05"), ev.Event, data)
			return err
		}
	}
}
