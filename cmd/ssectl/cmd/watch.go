package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"sse-rpc/client"
	"sse-rpc/metrics"
)

var metricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print server notifications and connection changes",
	Long: `Stay connected and print every server notification and state change
until interrupted. The session reconnects on its own when the stream drops;
watch exits when reconnection gives up.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.NewMetrics(reg)
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintln(cmd.ErrOrStderr(), "metrics server:", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	s, err := newSession(m)
	if err != nil {
		return err
	}
	defer s.Close()

	// Subscribe first so nothing between Ready and the loop is missed.
	notifications, unsubscribeN := s.Notifications()
	defer unsubscribeN()
	states, unsubscribeS := s.StateChanges()
	defer unsubscribeS()

	if err := s.open(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s connected\n", time.Now().Format(time.RFC3339))
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.RFC3339), n.Method, n.Params)
		case ev, ok := <-states:
			if !ok {
				return nil
			}
			line := fmt.Sprintf("%s state %s -> %s", ev.At.Format(time.RFC3339), ev.Previous, ev.State)
			if ev.Attempt > 0 {
				line += fmt.Sprintf(" (attempt %d)", ev.Attempt)
			}
			if ev.Err != nil {
				line += ": " + ev.Err.Error()
			}
			fmt.Fprintln(out, line)
			if ev.State == client.Disconnected && ev.Err != nil {
				return ev.Err
			}
		}
	}
}
