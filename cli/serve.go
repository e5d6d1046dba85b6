package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asaidimu/go-loom/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ServeOptions holds the serve command flags.
type ServeOptions struct {
	Addr  string
	Watch bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve collections over HTTP",
		Long: `Serve every registered collection over HTTP:

  POST /collections/{name}/{add,get,edit,del,erase}
  GET  /schemas
  GET  /metrics   (when metrics are enabled)

With --watch, schema files are re-registered when they change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, opts, nil)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "reload schema files on change")

	return cmd
}

// runServe serves until ctx is done. When ready is not nil it receives the
// bound address once the listener is open.
func runServe(ctx context.Context, rootOpts *RootOptions, opts *ServeOptions, ready chan<- string) error {
	s, err := rootOpts.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	addr := opts.Addr
	if addr == "" {
		addr = s.cfg.HTTP.Addr
	}

	if opts.Watch {
		if s.cfg.SchemaDir == "" {
			return fmt.Errorf("--watch needs a schema directory")
		}
		watcher, err := NewSchemaWatcher(s.dir, s.cfg.SchemaDir, s.logger)
		if err != nil {
			return err
		}
		watcher.Start()
		defer watcher.Stop()
	}

	handler := api.NewHandler(s.dir,
		api.WithLogger(s.logger),
		api.WithMetrics(s.cfg.Metrics.Enabled),
	)
	srv := &http.Server{
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.logger.Info("Serving collections",
		zap.String("addr", ln.Addr().String()),
		zap.Strings("collections", s.dir.Schemas()),
	)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("Server stopped")
	return nil
}
