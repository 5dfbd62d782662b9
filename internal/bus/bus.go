// internal/bus/bus.go
package bus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects for job lifecycle traffic.
const (
	SubjectLifecycle = "camkeep.jobs.lifecycle"
	SubjectDone      = "camkeep.jobs.done"
)

// Publisher delivers job events to interested subscribers. Publishing is
// best-effort: a slow or absent broker never blocks or fails a capture.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Noop is the publisher used when no broker is configured.
type Noop struct{}

func (Noop) PublishJSON(string, any) error { return nil }

// Client wraps a NATS connection as a Publisher.
type Client struct{ nc *nats.Conn }

func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}
