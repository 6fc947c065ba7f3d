package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pgl-tracking/eventmanager/manager/storage"
)

// Publisher is the dispatcher's view of the bus: just enough to send
// replies. BusClient implements it; tests substitute a recording mock.
type Publisher interface {
	Publish(topic, payload string) error
}

// Dispatcher is the single consumer of the ingress queue. It routes each
// message to the store through the router and publishes the reply, if the
// action has one. Exactly one dispatcher runs per process, which is what
// lets the store go without locks.
type Dispatcher struct {
	queue  *Queue
	router *Router
	pub    Publisher
	wait   time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDispatcher creates a dispatcher. wait bounds how long a dequeue blocks
// before the stop flag is rechecked, which in turn bounds shutdown latency.
func NewDispatcher(queue *Queue, router *Router, pub Publisher, wait time.Duration) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		router: router,
		pub:    pub,
		wait:   wait,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (d *Dispatcher) Start() {
	go d.run()
}

// Stop signals the worker and waits for it to exit. The caller is expected
// to have drained the queue first if queued messages must still be
// processed.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Dispatcher) run() {
	log.Info().Msg("Dispatcher started")
	defer close(d.doneCh)

	for {
		select {
		case <-d.stopCh:
			log.Info().Msg("Dispatcher stopped")
			return
		default:
		}

		msg, ok := d.queue.Dequeue(d.wait)
		if !ok {
			continue
		}
		d.handle(msg)
	}
}

// handle processes one message. No outcome here is fatal to the loop: a
// dropped message is logged by the router, a failed publish is logged here.
func (d *Dispatcher) handle(msg *Message) {
	reply := d.router.Handle(msg)
	if reply == nil {
		return
	}
	if err := d.pub.Publish(reply.Topic, reply.Payload); err != nil {
		log.Error().Err(err).Str("topic", reply.Topic).Msg("Failed to publish reply")
	}
}

// Controller owns the session lifecycle: store, bus client, ingress queue,
// and dispatcher, started and torn down in the order the components depend
// on each other.
type Controller struct {
	cfg *Config

	store      *storage.Store
	queue      *Queue
	bus        *BusClient
	dispatcher *Dispatcher
}

// NewController creates a controller from configuration.
func NewController(cfg *Config) *Controller {
	return &Controller{cfg: cfg}
}

// Start connects the store, connects the bus (which subscribes to the
// request wildcard), and starts the dispatcher.
func (c *Controller) Start() error {
	store, err := storage.Open(c.cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	c.store = store

	c.queue = NewQueue(c.cfg.Queue.Capacity)
	c.bus = NewBusClient(c.cfg.MQTT, c.queue)
	if err := c.bus.Connect(); err != nil {
		store.Close()
		return err
	}

	wait := time.Duration(c.cfg.Queue.DequeueWait) * time.Millisecond
	c.dispatcher = NewDispatcher(c.queue, NewRouter(store), c.bus, wait)
	c.dispatcher.Start()

	log.Info().Msg("Event manager started")
	return nil
}

// Stop tears the session down. Ordering is load-bearing: the queue is
// drained and the worker joined before the bus goes away, so the worker
// never publishes on a dead connection, and the store outlives the worker.
func (c *Controller) Stop() {
	log.Info().Msg("Event manager stopping")

	c.drainQueue()
	c.dispatcher.Stop()

	c.bus.ClearRetained()
	c.bus.Unsubscribe()
	c.bus.Disconnect()

	if err := c.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}

	log.Info().Msg("Event manager stopped")
}

// drainQueue waits for the dispatcher to work through everything already
// accepted from the broker.
func (c *Controller) drainQueue() {
	for c.queue.Len() > 0 {
		time.Sleep(50 * time.Millisecond)
	}
}
