package main

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// topicPublishers hands out one Pub/Sub publisher per topic. The relay
// drains on a single goroutine so the map needs no lock.
type topicPublishers struct {
	client  pubSubClient
	byTopic map[string]publisher
}

func newTopicPublishers(client pubSubClient) *topicPublishers {
	return &topicPublishers{client: client, byTopic: make(map[string]publisher)}
}

func (t *topicPublishers) get(topic string) publisher {
	if pub, ok := t.byTopic[topic]; ok {
		return pub
	}
	p := t.client.Publisher(topic)
	if p == nil {
		return nil
	}
	pub := &gcpPublisher{p}
	t.byTopic[topic] = pub
	return pub
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return gcpResult{g.p.Publish(ctx, msg)}
}

type gcpResult struct {
	r *gcppubsub.PublishResult
}

func (g gcpResult) Get(ctx context.Context) (string, error) {
	if g.r == nil {
		return "", errors.New("publish result is nil")
	}
	return g.r.Get(ctx)
}
