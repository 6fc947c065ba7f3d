package main

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Message is an inbound bus message buffered between the network callback
// and the dispatcher.
type Message struct {
	Topic   string
	Payload []byte
}

// Queue is the FIFO boundary between the bus client's network goroutine and
// the dispatcher. The producer never blocks: when the buffer is full the
// message is dropped and logged, which keeps the network callback from ever
// waiting on store latency. The single consumer dequeues with a bounded
// wait so the stop flag is observed at least once per wait period.
type Queue struct {
	ch chan *Message
}

// NewQueue creates a queue with the given buffer capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan *Message, capacity)}
}

// Enqueue adds a message without blocking. It reports false when the buffer
// is full and the message was dropped.
func (q *Queue) Enqueue(msg *Message) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		log.Warn().Str("topic", msg.Topic).Msg("Ingress queue full, dropping message")
		return false
	}
}

// Dequeue removes the oldest message, waiting at most wait for one to
// arrive. It reports false on timeout.
func (q *Queue) Dequeue(wait time.Duration) (*Message, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	case <-time.After(wait):
		return nil, false
	}
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.ch)
}
