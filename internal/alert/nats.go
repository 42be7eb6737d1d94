package alert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// DefaultSubjectPrefix is the subject root alerts are published under.
const DefaultSubjectPrefix = "ide-sandbox.alerts"

// Publisher is the subset of *nats.Conn the forwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher forwards alerts to NATS subjects of the form
// <prefix>.<type>.<severity>.
type NATSPublisher struct {
	pub    Publisher
	prefix string
}

func NewNATSPublisher(pub Publisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{pub: pub, prefix: prefix}
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("ide-sandbox"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject a is published on.
func (p *NATSPublisher) Subject(a Alert) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, a.Type, a.Severity)
}

// Publish is a Subscriber. Failures are logged, never returned, so a broker
// outage cannot affect the emitting call.
func (p *NATSPublisher) Publish(a Alert) {
	b, err := json.Marshal(a)
	if err != nil {
		log.Error().Err(err).Str("alert_id", a.ID).Msg("failed to marshal alert")
		return
	}
	if err := p.pub.Publish(p.Subject(a), b); err != nil {
		log.Warn().Err(err).Str("alert_id", a.ID).Msg("failed to publish alert to nats")
	}
}
