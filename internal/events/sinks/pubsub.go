package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/crawlcore/crawlcore/internal/events"
)

// PubSub republishes every event as a JSON message on a Pub/Sub topic, so
// an external system can subscribe to crawler lifecycle and document
// outcomes without polling the store.
type PubSub struct {
	topic *pubsub.Topic
}

// NewPubSub constructs a PubSub sink publishing through topic.
func NewPubSub(topic *pubsub.Topic) *PubSub {
	return &PubSub{topic: topic}
}

// Consume implements events.Sink.
func (p *PubSub) Consume(ctx context.Context, batch []events.Event) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub sink: topic is not configured")
	}
	results := make([]*pubsub.PublishResult, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(payloadFor(evt))
		if err != nil {
			return fmt.Errorf("pubsub sink: marshal event: %w", err)
		}
		results = append(results, p.topic.Publish(ctx, &pubsub.Message{Data: data}))
	}
	for _, r := range results {
		if _, err := r.Get(ctx); err != nil {
			return fmt.Errorf("pubsub sink: publish: %w", err)
		}
	}
	return nil
}

// Close implements events.Sink.
func (p *PubSub) Close(context.Context) error {
	if p.topic != nil {
		p.topic.Stop()
	}
	return nil
}

type payload struct {
	Type      string `json:"type"`
	CrawlerID string `json:"crawler_id"`
	Reference string `json:"reference,omitempty"`
	Note      string `json:"note,omitempty"`
	Error     string `json:"error,omitempty"`
}

func payloadFor(evt events.Event) payload {
	p := payload{
		Type:      string(evt.Type),
		CrawlerID: evt.CrawlerID,
		Reference: evt.Reference,
		Note:      evt.Note,
	}
	if evt.Err != nil {
		p.Error = evt.Err.Error()
	}
	return p
}
