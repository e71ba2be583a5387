package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
)

// NATSPublisher streams trail entries to NATS subjects noc.job.* and
// noc.audit.*.
type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(url string, logger logging.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("noc-orquestrador"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return errors.New("nats not connected")
	}
	return p.nc.Publish(subject, payload)
}

// Close flushes pending messages and disconnects.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
