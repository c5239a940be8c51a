// Package memory keeps published analytics events in process. The app uses it
// when a topic is configured without a Pub/Sub project.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one recorded publish.
type Message struct {
	Topic string
	// Data is the JSON body a broker would have received.
	Data []byte
}

// Publisher records messages per topic, oldest first.
type Publisher struct {
	mu    sync.Mutex
	log   []Message
	count map[string]int
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{count: make(map[string]int)}
}

// Publish encodes payload and appends it. The returned ID is topic-scoped.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, Message{Topic: topic, Data: data})
	p.count[topic]++
	return fmt.Sprintf("%s/%d", topic, p.count[topic]), nil
}

// Messages returns a copy of everything published.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.log...)
}

// Topic returns the bodies published to topic.
func (p *Publisher) Topic(topic string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, m := range p.log {
		if m.Topic == topic {
			out = append(out, m.Data)
		}
	}
	return out
}
