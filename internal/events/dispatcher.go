package events

import (
	"context"
	"sync"
	"time"
)

const (
	TypeBookAdded       = "book-added"
	TypeBookDeleted     = "book-deleted"
	TypeBookImported    = "book-imported"
	TypeShareCreated    = "share-created"
	TypeShareDownloaded = "share-downloaded"
	TypeShareClosed     = "share-closed"

	subscriberBufferSize = 16
)

// Message describes a library or share change for one owner subject.
type Message struct {
	Subject   string    `json:"subject"`
	Type      string    `json:"type"`
	BookIDs   []string  `json:"bookIds,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"origin,omitempty"`
}

// Publisher accepts messages for delivery.
type Publisher interface {
	Publish(message Message)
}

// Dispatcher fans messages out to in-process subscribers of a subject.
// Slow subscribers drop messages instead of blocking publishers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Message
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  subscriberBufferSize,
	}
}

// Subscribe registers a stream for subject until ctx ends or the returned
// cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, subject string) (<-chan Message, func()) {
	if subject == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	entry := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Message, d.bufferSize),
	}
	d.register(subject, entry)
	var once sync.Once
	done := make(chan struct{})
	cleanup := func() {
		once.Do(func() {
			d.unregister(subject, entry.id)
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return entry.stream, cleanup
}

func (d *Dispatcher) Publish(message Message) {
	if message.Subject == "" || message.Type == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Subject]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, entry := range subscribers {
		copies = append(copies, entry)
	}
	d.mu.RUnlock()
	for _, entry := range copies {
		select {
		case entry.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscriptions for subject.
func (d *Dispatcher) SubscriberCount(subject string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[subject])
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(subject string, entry *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[subject]; !ok {
		d.subscribers[subject] = make(map[int64]*subscriber)
	}
	d.subscribers[subject][entry.id] = entry
}

func (d *Dispatcher) unregister(subject string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[subject]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, subject)
		}
	}
	d.mu.Unlock()
}

// Discard is a Publisher that drops every message.
type Discard struct{}

func (Discard) Publish(Message) {}
