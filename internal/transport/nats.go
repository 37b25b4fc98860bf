// Package transport ingests component metric snapshots from NATS and feeds
// them to the health monitor. Components publish JSON snapshots on a
// wildcard subject whose last token is their component ID.
package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/halcyon-systems/dispatch/pkg/models"
)

// MetricsSink receives decoded snapshots; the health monitor implements it.
type MetricsSink interface {
	ReportMetrics(componentID string, snapshot models.MetricSnapshot)
}

// Config holds the subscriber settings.
type Config struct {
	// URL is the NATS server URL.
	URL string
	// Subject is the wildcard subject to subscribe on, e.g.
	// "health.metrics.>". The token after the wildcard root is the
	// component ID.
	Subject string
}

// MetricsSubscriber subscribes to the metrics subject and forwards each
// snapshot to the sink. Malformed messages are logged and dropped; a bad
// publisher must not stall health sampling.
type MetricsSubscriber struct {
	cfg  Config
	sink MetricsSink
	log  zerolog.Logger

	conn *nats.Conn
	sub  *nats.Subscription
}

// NewMetricsSubscriber creates a subscriber; call Start to connect.
func NewMetricsSubscriber(cfg Config, sink MetricsSink, log zerolog.Logger) (*MetricsSubscriber, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url must not be empty")
	}
	if cfg.Subject == "" {
		cfg.Subject = "health.metrics.>"
	}
	return &MetricsSubscriber{
		cfg:  cfg,
		sink: sink,
		log:  log.With().Str("component", "transport").Logger(),
	}, nil
}

// Start connects to the server and subscribes.
func (s *MetricsSubscriber) Start() error {
	conn, err := nats.Connect(s.cfg.URL,
		nats.Name("dispatch-metrics"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("connecting to nats at %s: %w", s.cfg.URL, err)
	}
	sub, err := conn.Subscribe(s.cfg.Subject, s.handle)
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribing to %s: %w", s.cfg.Subject, err)
	}
	s.conn = conn
	s.sub = sub
	s.log.Info().Str("url", s.cfg.URL).Str("subject", s.cfg.Subject).Msg("metrics subscriber started")
	return nil
}

func (s *MetricsSubscriber) handle(msg *nats.Msg) {
	componentID := ComponentIDFromSubject(msg.Subject)
	if componentID == "" {
		s.log.Warn().Str("subject", msg.Subject).Msg("metrics message with no component token")
		return
	}
	var snapshot models.MetricSnapshot
	if err := json.Unmarshal(msg.Data, &snapshot); err != nil {
		s.log.Warn().Str("subject", msg.Subject).Err(err).Msg("dropping malformed metrics message")
		return
	}
	s.sink.ReportMetrics(componentID, snapshot)
}

// Stop drains the subscription and closes the connection.
func (s *MetricsSubscriber) Stop() {
	if s.sub != nil {
		_ = s.sub.Drain()
		s.sub = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// ComponentIDFromSubject extracts the component ID, the last subject token.
func ComponentIDFromSubject(subject string) string {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 || idx == len(subject)-1 {
		return ""
	}
	return subject[idx+1:]
}
