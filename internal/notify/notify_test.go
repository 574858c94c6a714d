package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"listing-enricher/internal/models"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	published []published
	failAfter int
	closed    bool
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.failAfter > 0 && len(c.published) >= c.failAfter {
		return errors.New("channel closed")
	}
	c.published = append(c.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(street, borough string, qualified bool) models.MergedRecord {
	r := models.NewMergedRecord(models.RawListing{Address: models.Address{Street: street, Borough: borough}})
	r.MeetsCriteria = qualified
	r.Score = 70
	return r
}

func TestRoutingKey(t *testing.T) {
	tests := map[string]string{
		"Brooklyn":      "listing.qualified.brooklyn",
		"Staten Island": "listing.qualified.staten_island",
		"":              "listing.qualified.unknown",
	}
	for borough, want := range tests {
		if got := RoutingKey(DefaultRoutingKeyPrefix, borough); got != want {
			t.Errorf("RoutingKey(%q) = %q, want %q", borough, got, want)
		}
	}
}

func TestPublishQualified(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(Config{}, ch, testLogger())

	records := []models.MergedRecord{
		record("10 Gold St", "Brooklyn", true),
		record("5 Main St", "Queens", false),
		record("1 Grand Concourse", "Bronx", true),
	}
	sent, err := p.PublishQualified(context.Background(), "run-1", records)
	if err != nil {
		t.Fatalf("PublishQualified() error = %v", err)
	}
	if sent != 2 || len(ch.published) != 2 {
		t.Fatalf("sent = %d, published = %d; want 2", sent, len(ch.published))
	}

	first := ch.published[0]
	if first.exchange != DefaultExchange || first.key != "listing.qualified.brooklyn" {
		t.Errorf("first publish = %s/%s", first.exchange, first.key)
	}
	if first.msg.DeliveryMode != amqp.Persistent || first.msg.MessageId == "" {
		t.Errorf("message = %+v", first.msg)
	}
	if first.msg.Headers["event-type"] != eventType {
		t.Errorf("event-type header = %v", first.msg.Headers["event-type"])
	}

	var ev QualifiedListingEvent
	if err := json.Unmarshal(first.msg.Body, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.RunID != "run-1" || ev.Listing.Address.Street != "10 Gold St" || ev.Score != 70 {
		t.Errorf("event = %+v", ev)
	}
}

func TestPublishQualifiedStopsOnError(t *testing.T) {
	ch := &fakeChannel{failAfter: 1}
	p := newPublisher(Config{Exchange: "deals"}, ch, testLogger())

	sent, err := p.PublishQualified(context.Background(), "", []models.MergedRecord{
		record("a", "Brooklyn", true),
		record("b", "Brooklyn", true),
		record("c", "Brooklyn", true),
	})
	if err == nil || sent != 1 {
		t.Fatalf("sent = %d, err = %v; want 1 and an error", sent, err)
	}
	if ch.published[0].exchange != "deals" {
		t.Errorf("exchange = %q", ch.published[0].exchange)
	}

	if err := p.Close(); err != nil || !ch.closed {
		t.Errorf("Close() = %v, closed = %v", err, ch.closed)
	}
}
