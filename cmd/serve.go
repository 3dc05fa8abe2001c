package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prreview/internal/api"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server exposing review sessions under /api/v1.
By default it listens on port 8080. Use --port to change it.

  GET  /api/v1/sessions
  GET  /api/v1/sessions/{id}
  POST /api/v1/sessions/{id}/replay
  POST /api/v1/reviews
  GET  /api/v1/stats`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context(), viper.GetInt("port"))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	viper.SetDefault("port", 8080)
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

func serveRun(ctx context.Context, port int) error {
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}
	if !generatorReady {
		ui.Warning("No Anthropic API key configured; reviews will record fallback results")
	}
	logger, err := getLogger()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	srv := api.NewServer(orch, cfg.Review.DefaultCriteria, logger)
	ui.Info("Serving API at http://localhost:%d/api/v1", ln.Addr().(*net.TCPAddr).Port)
	return serveHTTP(ctx, ln, srv.Router())
}

// serveHTTP serves handler on ln until ctx is done, then shuts down
// gracefully.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler) error {
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	ui.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
