package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// envPrefix namespaces environment overrides for serve flags,
// e.g. INFSCHED_ADDR or INFSCHED_SHUTDOWN_TIMEOUT.
const envPrefix = "INFSCHED"

type serveOptions struct {
	configPath      string
	addr            string
	routerSeed      int64
	shutdownTimeout time.Duration
}

// serveCmd runs the control loops and the HTTP API until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control loops and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := resolveServeOptions(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, opts)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().Int64("seed", 0, "Experiment router seed (0 seeds from the clock)")
	serveCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "Grace period for in-flight HTTP requests on shutdown")
}

// resolveServeOptions layers INFSCHED_* environment variables under
// explicitly set flags.
func resolveServeOptions(cmd *cobra.Command) (serveOptions, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return serveOptions{}, fmt.Errorf("binding flags: %w", err)
	}
	opts := serveOptions{
		configPath:      v.GetString("config"),
		addr:            v.GetString("addr"),
		routerSeed:      v.GetInt64("seed"),
		shutdownTimeout: v.GetDuration("shutdown-timeout"),
	}
	if opts.addr == "" {
		return opts, errors.New("listen address must not be empty")
	}
	return opts, nil
}

func runServe(ctx context.Context, opts serveOptions) error {
	bundle, err := loadBundle(opts.configPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s, err := buildStack(bundle, stackOptions{registerer: reg, routerSeed: opts.routerSeed})
	if err != nil {
		return err
	}

	srv := &server{stack: s, gatherer: reg}
	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.controller.Run(ctx) })
	g.Go(func() error {
		logrus.Infof("Listening on %s", opts.addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logrus.Infof("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
