package main

import (
	"errors"
	"sync"
)

const defaultTopic = "cats"

var (
	errNotFound    = errors.New("client not found")
	errDuplicateID = errors.New("client id already registered")
)

// client is one registered consumer. send is nil until the websocket for
// this id is actually established.
type client struct {
	userID int
	topics []string
	send   chan []byte
}

func (c *client) subscribed(topic string) bool {
	for _, t := range c.topics {
		if t == topic {
			return true
		}
	}
	return false
}

// registry is the shared table of registered clients, keyed by connection
// id. Every entry point (register, unregister, publish, connection tasks)
// goes through its lock; the lock is never held across real I/O, only
// across buffered channel enqueues.
type registry struct {
	mu      sync.Mutex
	clients map[string]*client
}

func newRegistry() *registry {
	return &registry{
		clients: make(map[string]*client),
	}
}

func (r *registry) register(id string, userID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; ok {
		return errDuplicateID
	}
	r.clients[id] = &client{
		userID: userID,
		topics: []string{defaultTopic},
	}
	incr("clients", 1)
	return nil
}

func (r *registry) attach(id string, send chan []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return errNotFound
	}
	c.send = send
	return nil
}

// updateTopics replaces the entire topic set. There are no incremental
// subscribe/unsubscribe semantics.
func (r *registry) updateTopics(id string, topics []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return errNotFound
	}
	c.topics = topics
	return nil
}

// remove deletes the entry and closes its send channel. Closing under the
// lock is what keeps concurrent broadcasts from enqueueing onto a closed
// channel; it is also the signal the connection's writer uses to stop.
func (r *registry) remove(id string) (*client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, false
	}
	delete(r.clients, id)
	if c.send != nil {
		close(c.send)
	}
	decr("clients", 1)
	return c, true
}

func (r *registry) contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[id]
	return ok
}

// snapshot returns a copy of the table taken under the lock. The copies
// share send channels with the live records but own their topic slices.
func (r *registry) snapshot() map[string]client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]client, len(r.clients))
	for id, c := range r.clients {
		out[id] = client{
			userID: c.userID,
			topics: append([]string(nil), c.topics...),
			send:   c.send,
		}
	}
	return out
}

// broadcast fans payload out to every connected client subscribed to
// topic, optionally restricted to one userID. Enqueues are non-blocking:
// a recipient with a full buffer loses this message rather than stalling
// the broadcast. Returns the number of recipients reached.
func (r *registry) broadcast(topic string, userID *int, payload []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	incr("publishes", 1)
	n := 0
	for _, c := range r.clients {
		if userID != nil && c.userID != *userID {
			continue
		}
		if !c.subscribed(topic) {
			continue
		}
		if c.send == nil {
			// Registered but not yet connected; nothing is queued
			// for later delivery.
			continue
		}
		select {
		case c.send <- payload:
			n++
		default:
			mark("drops", 1)
		}
	}
	return n
}
