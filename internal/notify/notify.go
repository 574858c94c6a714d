package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"listing-enricher/internal/models"
)

const (
	DefaultExchange         = "listings"
	DefaultRoutingKeyPrefix = "listing.qualified"

	eventType      = "QualifiedListingEvent"
	eventVersion   = "1.0.0"
	publishTimeout = 10 * time.Second
)

// Config configures the AMQP publisher.
type Config struct {
	URL              string
	Exchange         string
	RoutingKeyPrefix string
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher announces qualifying listings on a topic exchange.
type Publisher struct {
	cfg    Config
	conn   *amqp.Connection
	ch     channel
	logger *slog.Logger
}

// QualifiedListingEvent is the message body for one qualifying record.
type QualifiedListingEvent struct {
	RunID            string                 `json:"run_id,omitempty"`
	Listing          models.RawListing      `json:"listing"`
	Building         *models.BuildingRecord `json:"building,omitempty"`
	Confidence       models.Confidence      `json:"confidence,omitempty"`
	TotalUnits       int                    `json:"total_units"`
	SpecialUnitCount int                    `json:"special_unit_count"`
	Score            float64                `json:"score"`
	Notes            string                 `json:"notes,omitempty"`
	PublishedAt      time.Time              `json:"published_at"`
}

// NewPublisher dials the broker and declares the exchange as a durable
// topic exchange.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	cfg = withDefaults(cfg)
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", cfg.Exchange, err)
	}

	p := newPublisher(cfg, ch, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(cfg Config, ch channel, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    withDefaults(cfg),
		ch:     ch,
		logger: logger.With("component", "notify", "exchange", cfg.Exchange),
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.RoutingKeyPrefix == "" {
		cfg.RoutingKeyPrefix = DefaultRoutingKeyPrefix
	}
	return cfg
}

// RoutingKey returns "<prefix>.<borough>" with the borough lowercased and
// spaces replaced by underscores. A missing borough routes to "unknown".
func RoutingKey(prefix, borough string) string {
	b := strings.ToLower(strings.TrimSpace(borough))
	if b == "" {
		b = "unknown"
	}
	return prefix + "." + strings.ReplaceAll(b, " ", "_")
}

// PublishQualified publishes every record that meets the criteria and
// returns how many were sent. Publishing stops at the first failure.
func (p *Publisher) PublishQualified(ctx context.Context, runID string, records []models.MergedRecord) (int, error) {
	sent := 0
	for _, r := range records {
		if !r.MeetsCriteria {
			continue
		}
		if err := p.publish(ctx, runID, r); err != nil {
			return sent, err
		}
		sent++
	}
	p.logger.Info("published qualified listings", "count", sent, "run_id", runID)
	return sent, nil
}

func (p *Publisher) publish(ctx context.Context, runID string, r models.MergedRecord) error {
	now := time.Now()
	body, err := json.Marshal(QualifiedListingEvent{
		RunID:            runID,
		Listing:          r.Listing,
		Building:         r.Building,
		Confidence:       r.Confidence,
		TotalUnits:       r.TotalUnits,
		SpecialUnitCount: r.SpecialUnitCount,
		Score:            r.Score,
		Notes:            r.Notes,
		PublishedAt:      now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", r.Listing.Address.Street, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now,
		Headers: amqp.Table{
			"event-type":    eventType,
			"event-version": eventVersion,
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	key := RoutingKey(p.cfg.RoutingKeyPrefix, r.Borough())
	if err := p.ch.PublishWithContext(publishCtx, p.cfg.Exchange, key, false, false, msg); err != nil {
		p.logger.Error("failed to publish listing", "routing_key", key, "error", err)
		return fmt.Errorf("failed to publish %s: %w", r.Listing.Address.Street, err)
	}
	p.logger.Debug("published listing", "routing_key", key, "street", r.Listing.Address.Street)
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
