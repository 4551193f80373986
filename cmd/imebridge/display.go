package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"imebridge/internal/health"
	"imebridge/internal/metrics"
	"imebridge/internal/store"
	"imebridge/internal/xrdisplay"
)

var displayCmd = &cobra.Command{
	Use:   "display",
	Short: "Secondary display service",
}

var displayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference secondary display service",
	Long: `Runs a display service on a unix socket. Input sessions connect to it to
find the display their keyboard window belongs on and report whether the
window is showing.`,
	RunE: runDisplayServe,
}

func init() {
	displayServeCmd.Flags().String("socket", "", "socket path (default: display.socket_path)")
	displayServeCmd.Flags().Int("display", xrdisplay.InvalidDisplay, "input display id to announce")
	displayServeCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics and health checks on this address, e.g. :9464")
	displayCmd.AddCommand(displayServeCmd)
	rootCmd.AddCommand(displayCmd)
}

func runDisplayServe(cmd *cobra.Command, args []string) error {
	socket, _ := cmd.Flags().GetString("socket")
	if socket == "" {
		socket = cfg.Display.SocketPath
	}
	displayID, _ := cmd.Flags().GetInt("display")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := xrdisplay.NewServer(xrdisplay.ServerConfig{
		SocketPath:  socket,
		Version:     version,
		AllowedUIDs: cfg.Display.AllowedUIDs,
		Logger:      logger.Logger,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	srv.SetDisplay(displayID)
	logger.Info("display service listening", "socket", srv.SocketPath(), "display", displayID)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("display service stopping")
		return srv.Stop()
	})

	if metricsAddr != "" {
		handler, closeFn, err := observabilityHandler(srv)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		defer closeFn()
		hs := &http.Server{Addr: metricsAddr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("serving metrics", "addr", metricsAddr)
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// observabilityHandler serves /metrics, /healthz and /readyz for a running
// display server. The package cache, when configured, is checked and
// measured too but never fails the service.
func observabilityHandler(srv *xrdisplay.Server) (http.Handler, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.RegisterDisplay(reg, srv); err != nil {
		return nil, nil, err
	}

	checker := health.NewChecker()
	checker.Register("display_socket", true, 0, health.PingCheck("display socket", func(ctx context.Context) error {
		cc := xrdisplay.DefaultClientConfig(srv.SocketPath())
		cc.ClientName = "imebridge-health"
		cc.AutoReconnect = false
		cc.Logger = logger.Logger
		c := xrdisplay.NewClient(cc)
		if err := c.Connect(ctx); err != nil {
			return err
		}
		return c.Disconnect()
	}))

	closeFn := func() {}
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			logger.Warn("package cache unavailable", "path", cfg.Store.Path, "error", err)
		} else {
			reg.MustRegister(collectors.NewDBStatsCollector(st.DB(), "packages"))
			checker.Register("package_cache", false, 0, health.PingCheck("package cache", st.Ping))
			closeFn = func() { st.Close() }
		}
	}
	checker.SetReady(true)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Handle("/healthz", checker.LivenessHandler())
	mux.Handle("/readyz", checker.Handler())
	return mux, closeFn, nil
}
