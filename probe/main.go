// Package main provides an end-to-end probe for the PGL event manager. It
// publishes one request of every kind against a live broker and checks the
// replies arrive on the per-requester response topics.
package main

import (
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const replyTimeout = 5 * time.Second

func main() {
	brokerURL := os.Getenv("MQTT_BROKER")
	if brokerURL == "" {
		brokerURL = "tcp://localhost:1883"
	}

	// Unique identity per run so replies are not mixed with earlier probes.
	run := uuid.NewString()[:8]
	username := "probe-" + run
	deviceID := "probe-dev-" + run
	clientID := "probe-client-" + run

	fmt.Println("=== PGL Event Manager Probe ===")
	fmt.Printf("Broker: %s\n", brokerURL)
	fmt.Printf("User: %s  Device: %s\n\n", username, deviceID)

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("pgl-probe-" + run).
		SetCleanSession(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Printf("❌ Failed to connect to broker: %v\n", token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)
	fmt.Println("✓ Connected to broker")

	passed := 0
	failed := 0
	check := func(name string, ok bool) {
		if ok {
			fmt.Printf("✓ %s\n", name)
			passed++
		} else {
			fmt.Printf("❌ %s\n", name)
			failed++
		}
	}

	validCh := subscribe(client, fmt.Sprintf("PGL/response/valid/%s/response", username))
	clientCh := subscribe(client, fmt.Sprintf("PGL/response/valid/%s/response", clientID))
	eventsCh := subscribe(client, fmt.Sprintf("PGL/response/send_events/%s/response", username))
	emergencyCh := subscribe(client, fmt.Sprintf("PGL/response/emergency/%s/response", username))

	// Create a caregiver, then grant it the probe device.
	publish(client, "PGL/request/store_user", username+";secret;caregiver;")
	check("store_user replies VALID", await(validCh) == "VALID")

	publish(client, "PGL/request/store_user", username+";secret;caregiver;")
	check("duplicate store_user replies INVALID", await(validCh) == "INVALID")

	publish(client, "PGL/request/new_device", deviceID)
	publish(client, "PGL/request/store_product", deviceID+";"+username+";")
	check("store_product replies VALID", await(validCh) == "VALID")

	// Telemetry for the granted device.
	publish(client, "PGL/request/store_event", "01/01/2024, 00:00:00;100;50;"+deviceID+";")
	publish(client, "PGL/request/emergency", "01/01/2024, 00:01:00;30;"+deviceID+";")

	publish(client, "PGL/request/get_events", username+";")
	events := await(eventsCh)
	check("get_events returns a non-empty array", len(events) > 2 && events[0] == '[')

	publish(client, "PGL/request/get_emergencies", username+";"+deviceID+";")
	emergencies := await(emergencyCh)
	check("get_emergencies returns a non-empty array", len(emergencies) > 2 && emergencies[0] == '[')

	publish(client, "PGL/request/valid_user", username+";secret;"+clientID+";")
	check("valid_user with good credentials replies VALID", await(clientCh) == "VALID")

	publish(client, "PGL/request/valid_user", username+";wrong;"+clientID+";")
	check("valid_user with bad credentials replies INVALID", await(clientCh) == "INVALID")

	fmt.Println("\n=== Probe Summary ===")
	fmt.Printf("Passed: %d\n", passed)
	fmt.Printf("Failed: %d\n", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func subscribe(client mqtt.Client, topic string) chan string {
	ch := make(chan string, 4)
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		ch <- string(msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		fmt.Printf("❌ Failed to subscribe to %s: %v\n", topic, err)
		os.Exit(1)
	}
	return ch
}

func publish(client mqtt.Client, topic, payload string) {
	token := client.Publish(topic, 1, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		fmt.Printf("❌ Failed to publish to %s: %v\n", topic, err)
		os.Exit(1)
	}
	fmt.Printf("  → %s %q\n", topic, payload)
}

func await(ch chan string) string {
	select {
	case payload := <-ch:
		fmt.Printf("  ← %q\n", payload)
		return payload
	case <-time.After(replyTimeout):
		fmt.Println("  ← (timeout)")
		return ""
	}
}
