// Package events carries real-time organization events between processes
// over Redis pub/sub. Workers publish, the controller subscribes and fans
// out to its websocket clients.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "chief:events:"

// Event is the envelope published to an organization channel.
type Event struct {
	Type           string          `json:"type"`
	OrganizationID string          `json:"organization_id"`
	ProjectID      string          `json:"project_id,omitempty"`
	BuildID        string          `json:"build_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Event types pushed to connected clients.
const (
	TypeBuildLogs   = "build_logs"
	TypeBuildStatus = "build_status"
	TypeInstance    = "instance_status"
)

// Publisher broadcasts events for an organization.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// RedisPublisher publishes events on a per-organization Redis channel.
type RedisPublisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPublisher constructs a RedisPublisher.
func NewPublisher(client *redis.Client, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

// Publish serializes and publishes the event. Publish failures are logged
// and returned; callers treat event delivery as best effort.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if event.OrganizationID == "" {
		return fmt.Errorf("event missing organization id")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, channelPrefix+event.OrganizationID, payload).Err(); err != nil {
		p.logger.Warn("event publish failed", "type", event.Type, "organization_id", event.OrganizationID, "error", err)
		return err
	}
	return nil
}

// Sink receives raw event payloads for an organization.
type Sink interface {
	Broadcast(organizationID string, payload []byte)
}

// Subscriber consumes all organization channels and forwards payloads to a
// local sink.
type Subscriber struct {
	client *redis.Client
	sink   Sink
	logger *slog.Logger
}

// NewSubscriber constructs a Subscriber.
func NewSubscriber(client *redis.Client, sink Sink, logger *slog.Logger) *Subscriber {
	return &Subscriber{client: client, sink: sink, logger: logger}
}

// Run subscribes to every organization channel and forwards messages until
// the context is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("event subscription closed")
			}
			orgID := msg.Channel[len(channelPrefix):]
			if orgID == "" {
				s.logger.Warn("event on malformed channel", "channel", msg.Channel)
				continue
			}
			s.sink.Broadcast(orgID, []byte(msg.Payload))
		}
	}
}
