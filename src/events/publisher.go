package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/tokenscale/inference-gateway/src/config"
	"github.com/tokenscale/inference-gateway/src/models"
)

// Queue pressure grades carried by backpressure reports.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Publisher emits operational events over NATS: one completion event per
// terminal request outcome and periodic queue pressure reports.
type Publisher struct {
	nc                  *nats.Conn
	completionsSubject  string
	backpressureSubject string
	log                 *slog.Logger
}

func NewPublisher(cfg *config.EventsConfig) (*Publisher, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("inference-gateway"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "gateway"
	}

	return &Publisher{
		nc:                  nc,
		completionsSubject:  prefix + ".completions",
		backpressureSubject: prefix + ".backpressure",
		log:                 slog.Default().With("component", "events"),
	}, nil
}

func (p *Publisher) PublishCompletion(ev *models.CompletionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.completionsSubject, data)
}

func (p *Publisher) PublishBackpressure(report *models.BackpressureReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.backpressureSubject, data)
}

// Close flushes buffered publishes before dropping the connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.log.Warn("nats drain failed, closing hard", "error", err)
		p.nc.Close()
	}
}

// StatusFor grades queue depth against capacity.
func StatusFor(depth, capacity int) string {
	if capacity <= 0 {
		return StatusHealthy
	}
	ratio := float64(depth) / float64(capacity)
	switch {
	case ratio > 0.9:
		return StatusCritical
	case ratio >= 0.5:
		return StatusWarning
	default:
		return StatusHealthy
	}
}
