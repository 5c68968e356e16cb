// Command fdc3rootd runs the FDC3 root agent: a single process holding
// the channel, intent, directory and heartbeat engines that every
// connected proxy (browser tab, iframe, or same-host process) shares,
// generalizing the teacher's single-agent-subprocess multiplexer into a
// Desktop-Agent-contract coordination daemon (§1, §4).
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/finos-labs/fdc3agent/internal/agent"
	"github.com/finos-labs/fdc3agent/internal/channel"
	"github.com/finos-labs/fdc3agent/internal/config"
	"github.com/finos-labs/fdc3agent/internal/directory"
	"github.com/finos-labs/fdc3agent/internal/eventlistener"
	"github.com/finos-labs/fdc3agent/internal/heartbeat"
	"github.com/finos-labs/fdc3agent/internal/intent"
	"github.com/finos-labs/fdc3agent/internal/message"
	"github.com/finos-labs/fdc3agent/internal/metrics"
	"github.com/finos-labs/fdc3agent/internal/resolver"
	"github.com/finos-labs/fdc3agent/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cmd := &cobra.Command{
		Use:   "fdc3rootd",
		Short: "FDC3 2.x root agent: channel, intent and directory coordination for browser-resident proxies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logrus.NewEntry(log))
		},
	}
	cfg.BindFlags(cmd)
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sources := make([]directory.Source, 0, len(cfg.DirectoryURLs))
	for _, url := range cfg.DirectoryURLs {
		sources = append(sources, directory.NewHTTPSource(url, nil))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	eventListeners := eventlistener.New()
	router := agent.NewRouter()
	channels := channel.New(log, router, eventListeners)
	dir := directory.Load(ctx, log, sources, resolver.NullResolver{})
	intents := intent.New(log, dir, channels, router)
	monitor := heartbeat.New(log, cfg.HeartbeatInterval, cfg.HeartbeatMissedLimit, router,
		countingCleanup(m, heartbeat.BuildCleanup(channels, intents, eventListeners, dir)))

	root := &agent.Root{
		Log:            log,
		Channels:       channels,
		Intents:        intents,
		Directory:      dir,
		EventListeners: eventListeners,
		Router:         router,
		Monitor:        monitor,
		RequestTimeout: cfg.RequestTimeout,
	}

	os.Remove(cfg.SocketPath)
	socketLn, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", cfg.SocketPath, err)
	}
	defer os.Remove(cfg.SocketPath)
	log.WithField("path", cfg.SocketPath).Info("listening on unix socket")
	go acceptSocketConns(ctx, root, socketLn, cfg.RequestTimeout, m, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.UpgradeConn(w, r)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		m.ConnectedProxies.Inc()
		if _, err := agent.ServeConn(ctx, root, conn, cfg.RequestTimeout); err != nil {
			log.WithError(err).Warn("websocket handshake failed")
			m.ConnectedProxies.Dec()
		}
	})
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("listening for websocket proxies and /metrics")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server exited")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func acceptSocketConns(ctx context.Context, root *agent.Root, ln net.Listener, handshakeTimeout time.Duration, m *metrics.Registry, log *logrus.Entry) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		netConn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("accept failed")
			continue
		}
		conn := transport.NewSocketConn(netConn)
		go func() {
			if _, err := agent.ServeConn(ctx, root, conn, handshakeTimeout); err != nil {
				log.WithError(err).Warn("socket handshake failed")
				conn.Close()
				return
			}
			m.ConnectedProxies.Inc()
		}()
	}
}

// countingCleanup wraps a heartbeat.CleanupFunc to keep the
// connected-proxy gauge and cleanup counter in step with disconnects
// the monitor notices on its own (as opposed to an orderly close).
func countingCleanup(m *metrics.Registry, inner heartbeat.CleanupFunc) heartbeat.CleanupFunc {
	return func(ctx context.Context, instance message.AppID) {
		inner(ctx, instance)
		m.HeartbeatCleanups.Inc()
		m.ConnectedProxies.Dec()
	}
}
