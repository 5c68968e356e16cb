// Package testsupport builds an in-process root-plus-proxies harness
// for exercising the full message path, the same role the teacher's
// integration_test.go plays by spawning a real agent subprocess and
// piping frontends at it, adapted here to spin up transport.Conn pairs
// instead of OS pipes.
package testsupport

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/finos-labs/fdc3agent/internal/agent"
	"github.com/finos-labs/fdc3agent/internal/channel"
	"github.com/finos-labs/fdc3agent/internal/directory"
	"github.com/finos-labs/fdc3agent/internal/eventlistener"
	"github.com/finos-labs/fdc3agent/internal/heartbeat"
	"github.com/finos-labs/fdc3agent/internal/intent"
	"github.com/finos-labs/fdc3agent/internal/message"
	"github.com/finos-labs/fdc3agent/internal/resolver"
	"github.com/finos-labs/fdc3agent/internal/transport"
)

// Harness owns one Root wired with silent logging, ready for
// in-process facades and wire-connected proxies alike.
type Harness struct {
	Root *agent.Root
}

// New builds a Harness with no catalog sources and a NullResolver,
// suitable for tests that register instances directly. Pass opts to
// override defaults (heartbeat interval, directory sources).
func New(opts ...Option) *Harness {
	cfg := options{
		log:                  silentLogger(),
		heartbeatInterval:    50 * time.Millisecond,
		heartbeatMissedLimit: 3,
		requestTimeout:       2 * time.Second,
		resolver:             resolver.NullResolver{},
	}
	for _, o := range opts {
		o(&cfg)
	}

	eventListeners := eventlistener.New()
	router := agent.NewRouter()
	channels := channel.New(cfg.log, router, eventListeners)
	dir := directory.Load(context.Background(), cfg.log, cfg.sources, cfg.resolver)
	intents := intent.New(cfg.log, dir, channels, router)
	monitor := heartbeat.New(cfg.log, cfg.heartbeatInterval, cfg.heartbeatMissedLimit, router,
		heartbeat.BuildCleanup(channels, intents, eventListeners, dir))

	return &Harness{Root: &agent.Root{
		Log:            cfg.log,
		Channels:       channels,
		Intents:        intents,
		Directory:      dir,
		EventListeners: eventListeners,
		Router:         router,
		Monitor:        monitor,
		RequestTimeout: cfg.requestTimeout,
	}}
}

// LocalAgent registers a new instance and returns its in-process
// facade directly, bypassing any transport.Conn — the cheapest way to
// exercise the engines (§4.8).
func (h *Harness) LocalAgent(appID string) (agent.DesktopAgent, message.AppID) {
	self := h.Root.Directory.RegisterNewInstance(appID)
	return agent.NewRootFacade(h.Root, self), self
}

// WireAgent performs a full WCP handshake and request/response round
// trip over an in-process transport.Conn pair, exercising ConnHandler
// and ProxyAgent the way a real Unix-socket or WebSocket proxy would
// (§4.1).
func (h *Harness) WireAgent(ctx context.Context, actualURL, fdc3Version string) (*agent.ProxyAgent, message.AppID, error) {
	serverConn, clientConn := transport.NewInProcessPair()

	handshakeDone := make(chan error, 1)
	go func() {
		_, err := agent.ServeConn(ctx, h.Root, serverConn, 5*time.Second)
		handshakeDone <- err
	}()

	self, err := transport.ClientHandshake(ctx, clientConn, actualURL, fdc3Version, 5*time.Second)
	if err != nil {
		return nil, message.AppID{}, err
	}
	if err := <-handshakeDone; err != nil {
		return nil, message.AppID{}, err
	}

	return agent.NewProxyAgent(h.Root.Log, clientConn, self, h.Root.RequestTimeout), self, nil
}

type options struct {
	log                  *logrus.Entry
	sources              []directory.Source
	resolver             resolver.Resolver
	heartbeatInterval    time.Duration
	heartbeatMissedLimit int
	requestTimeout       time.Duration
}

// Option customizes a Harness built by New.
type Option func(*options)

// WithSources supplies a static app directory catalog.
func WithSources(sources []directory.Source) Option {
	return func(o *options) { o.sources = sources }
}

// WithResolver overrides the default NullResolver.
func WithResolver(r resolver.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithHeartbeat overrides the default fast test interval/threshold.
func WithHeartbeat(interval time.Duration, missedLimit int) Option {
	return func(o *options) { o.heartbeatInterval = interval; o.heartbeatMissedLimit = missedLimit }
}

func silentLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
