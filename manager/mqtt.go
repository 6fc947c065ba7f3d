package main

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Delivery is at-least-once end to end; the store's existence checks make
// the duplicate-sensitive writes idempotent.
const qosAtLeastOnce = 1

// BusClient bridges the broker's asynchronous delivery into the ingress
// queue. Its callbacks run on paho's network goroutine and must never
// block, so the only work they do is enqueue.
type BusClient struct {
	client mqtt.Client
	cfg    MQTTConfig
	queue  *Queue
}

// NewBusClient builds the MQTT client. Connecting subscribes to the request
// wildcard; the subscription is re-established by the OnConnect handler
// after every reconnect.
func NewBusClient(cfg MQTTConfig, queue *Queue) *BusClient {
	c := &BusClient{cfg: cfg, queue: queue}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(fmt.Sprintf("%s-%s", cfg.ClientIDPrefix, uuid.NewString()[:8])).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetryInterval(time.Duration(cfg.ReconnectWait) * time.Millisecond).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect connects to the broker and waits for the initial subscription.
func (c *BusClient) Connect() error {
	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	log.Info().Str("broker", c.cfg.BrokerURL).Msg("Connected to MQTT broker")
	return nil
}

func (c *BusClient) onConnect(client mqtt.Client) {
	token := client.Subscribe(RequestWildcard, qosAtLeastOnce, c.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", RequestWildcard).Msg("Failed to subscribe")
		return
	}
	log.Info().Str("topic", RequestWildcard).Msg("Subscribed to request topics")
}

// onMessage enqueues inbound requests. Empty payloads are the retained
// clear markers published by ClearRetained and are dropped silently.
func (c *BusClient) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if len(msg.Payload()) == 0 {
		log.Debug().Str("topic", msg.Topic()).Msg("Empty message received")
		return
	}
	c.queue.Enqueue(&Message{Topic: msg.Topic(), Payload: msg.Payload()})
}

// onConnectionLost clears retained requests so a crashed requester's
// retained message is not redelivered and reprocessed once the broker
// accepts us again. Best effort: the connection is already down and paho
// only queues the publishes until the reconnect.
func (c *BusClient) onConnectionLost(_ mqtt.Client, err error) {
	log.Warn().Err(err).Msg("MQTT connection lost")
	c.ClearRetained()
}

// ClearRetained publishes an empty retained payload to every known request
// topic, replacing whatever the broker currently retains for them.
func (c *BusClient) ClearRetained() {
	for _, topic := range RequestTopics {
		token := c.client.Publish(topic, qosAtLeastOnce, true, []byte{})
		token.Wait()
		if err := token.Error(); err != nil {
			log.Debug().Err(err).Str("topic", topic).Msg("Failed to clear retained message")
		}
	}
}

// Publish sends a reply payload to a response topic.
func (c *BusClient) Publish(topic, payload string) error {
	token := c.client.Publish(topic, qosAtLeastOnce, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe drops the request-wildcard subscription.
func (c *BusClient) Unsubscribe() {
	token := c.client.Unsubscribe(RequestWildcard)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Warn().Err(err).Msg("Failed to unsubscribe")
	}
}

// Disconnect closes the connection after letting in-flight work finish.
func (c *BusClient) Disconnect() {
	c.client.Disconnect(250)
	log.Info().Msg("Disconnected from MQTT broker")
}
