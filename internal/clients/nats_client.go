package clients

import (
	"encoding/json"
	"fmt"
	"time"

	"go-bridge/internal/config"
	"go-bridge/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSClient publishes bridge lifecycle events to NATS subjects of the form
// <prefix>.<chain>.<event_type>.
type NATSClient struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        *logrus.Logger
}

// NewNATSClient connects to the configured NATS server.
func NewNATSClient(url string, logger *logrus.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	connectTimeout := 10 * time.Second
	reconnectWait := 5 * time.Second
	maxReconnects := -1
	prefix := "bridge"
	if config.AppConfig != nil {
		if config.AppConfig.NATS.Timeout > 0 {
			connectTimeout = time.Duration(config.AppConfig.NATS.Timeout) * time.Second
		}
		if config.AppConfig.NATS.ReconnectWait > 0 {
			reconnectWait = time.Duration(config.AppConfig.NATS.ReconnectWait) * time.Second
		}
		if config.AppConfig.NATS.MaxReconnects != 0 {
			maxReconnects = config.AppConfig.NATS.MaxReconnects
		}
		if config.AppConfig.NATS.SubjectPrefix != "" {
			prefix = config.AppConfig.NATS.SubjectPrefix
		}
	}

	conn, err := nats.Connect(url,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			metrics.NATSConnectionStatus.Set(0)
			logger.WithField("error", err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			metrics.NATSConnectionStatus.Set(1)
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	metrics.NATSConnectionStatus.Set(1)
	return &NATSClient{conn: conn, subjectPrefix: prefix, logger: logger}, nil
}

// Publish sends one event payload to <prefix>.<chain>.<eventType>.
func (c *NATSClient) Publish(chain, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", c.subjectPrefix, chain, eventType)
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	metrics.NATSMessagesPublished.WithLabelValues(eventType).Inc()
	return nil
}

// Close drains and closes the connection.
func (c *NATSClient) Close() {
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.logger.WithField("error", err).Warn("NATS drain failed")
		}
	}
}
