package events

import (
	"go-bridge/internal/clients"

	"github.com/sirupsen/logrus"
)

// NATSForwarder publishes bus events to NATS subjects. Publish failures are
// logged and dropped; NATS is a best-effort mirror of the in-process bus.
type NATSForwarder struct {
	client *clients.NATSClient
	logger *logrus.Logger
}

func NewNATSForwarder(client *clients.NATSClient, logger *logrus.Logger) *NATSForwarder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NATSForwarder{client: client, logger: logger}
}

func (f *NATSForwarder) Forward(evt Event) {
	chain := evt.ChainID
	if chain == "" {
		chain = "global"
	}
	if err := f.client.Publish(chain, string(evt.Type), evt); err != nil {
		f.logger.WithFields(logrus.Fields{
			"event": evt.Type,
			"chain": chain,
			"error": err,
		}).Warn("Failed to forward event to NATS")
	}
}
