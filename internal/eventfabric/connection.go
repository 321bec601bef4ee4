// Package eventfabric generalizes the teacher's embedded-NATS plugin event
// bus into the edge<->backend message fabric: a connection manager shared
// by every producer/consumer, typed DTOs for the six subjects, and a single
// per-process dispatcher goroutine that serializes control-message side
// effects.
package eventfabric

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const reconnectWait = 5 * time.Second

// ConnectionManager owns one NATS connection shared by all producers and
// consumers in a process, with durable JetStream consumers and manual ack.
type ConnectionManager struct {
	srv    *server.Server // non-nil only on the process hosting the broker
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// HostConfig configures an embedded NATS server, run by the backend
// process.
type HostConfig struct {
	Host     string
	Port     int
	StoreDir string
}

// Host starts an embedded NATS server with JetStream enabled and connects
// to it, returning a ConnectionManager. This mirrors the teacher's
// NewEventBus, generalized to this domain's subjects.
func Host(cfg HostConfig, logger *slog.Logger) (*ConnectionManager, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := &server.Options{
		Host:      cfg.Host,
		Port:      cfg.Port,
		JetStream: true,
		StoreDir:  cfg.StoreDir,
		NoSigs:    true,
		NoLog:     true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("eventfabric: start embedded NATS: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("eventfabric: embedded NATS not ready")
	}

	cm, err := connect(ns.ClientURL(), logger)
	if err != nil {
		ns.Shutdown()
		return nil, err
	}
	cm.srv = ns
	logger.Info("event fabric hosting embedded NATS", "url", ns.ClientURL())
	return cm, nil
}

// Dial connects to a NATS server hosted elsewhere (used by the edge process
// to reach the backend's broker).
func Dial(url string, logger *slog.Logger) (*ConnectionManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return connect(url, logger)
}

func connect(url string, logger *slog.Logger) (*ConnectionManager, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("event fabric disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("event fabric reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("eventfabric: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventfabric: jetstream context: %w", err)
	}

	return &ConnectionManager{
		conn:   nc,
		js:     js,
		logger: logger.With("component", "eventfabric"),
	}, nil
}

// Conn returns the underlying NATS connection for direct use by tests.
func (cm *ConnectionManager) Conn() *nats.Conn { return cm.conn }

// Close drains all subscriptions, closes the connection, and (if this
// manager hosts the broker) shuts down the embedded server.
func (cm *ConnectionManager) Close() {
	cm.mu.Lock()
	subs := cm.subs
	cm.subs = nil
	cm.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Drain()
	}
	_ = cm.conn.Drain()

	if cm.srv != nil {
		cm.srv.Shutdown()
	}
}

// ensureStream declares a JetStream stream for subject if it does not yet
// exist, with maxAge bounding retention (used for the lossy frame/score
// subjects' TTL).
func (cm *ConnectionManager) ensureStream(name string, subjects []string, maxAge time.Duration) error {
	_, err := cm.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	_, err = cm.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
		MaxAge:   maxAge,
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("eventfabric: declare stream %s: %w", name, err)
	}
	return nil
}

// durableSubscribe subscribes to subject with a durable, manually-acked
// JetStream consumer, delivering every message to handler.
func (cm *ConnectionManager) durableSubscribe(ctx context.Context, streamName, subject, durable string, handler func(*nats.Msg)) error {
	sub, err := cm.js.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg)
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck(), nats.BindStream(streamName))
	if err != nil {
		return fmt.Errorf("eventfabric: subscribe %s: %w", subject, err)
	}

	cm.mu.Lock()
	cm.subs = append(cm.subs, sub)
	cm.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Drain()
	}()
	return nil
}
