package main

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pgl-tracking/eventmanager/manager/storage"
)

// Action identifies what a request topic asks for.
type Action int

const (
	ActionUnknown Action = iota
	ActionNewDevice
	ActionStoreJourney
	ActionStoreEmergency
	ActionStoreUser
	ActionStoreProduct
	ActionGetJourneys
	ActionGetEmergencies
	ActionValidateUser
)

var actionByTopic = map[string]Action{
	TopicNewDevice:      ActionNewDevice,
	TopicStoreEvent:     ActionStoreJourney,
	TopicEmergency:      ActionStoreEmergency,
	TopicStoreUser:      ActionStoreUser,
	TopicStoreProduct:   ActionStoreProduct,
	TopicGetEvents:      ActionGetJourneys,
	TopicGetEmergencies: ActionGetEmergencies,
	TopicValidUser:      ActionValidateUser,
}

// ParseAction maps an inbound topic to its action, ActionUnknown when the
// topic is not recognized.
func ParseAction(topic string) Action {
	return actionByTopic[topic]
}

// Reply is a response to publish after handling a message. Not every action
// has one.
type Reply struct {
	Topic   string
	Payload string
}

// Router maps inbound messages to store operations and builds replies. All
// payload parsing happens here, at the boundary: downstream code only sees
// typed fields.
type Router struct {
	store *storage.Store
}

// NewRouter creates a router backed by the given store.
func NewRouter(store *storage.Store) *Router {
	return &Router{store: store}
}

// Handle routes one message. It returns the reply to publish, or nil when
// the action has no reply or the message was dropped. Unknown topics and
// malformed payloads are logged and dropped; persistence faults are logged
// and the reply suppressed, since the requester is expected to time out and
// re-request.
func (r *Router) Handle(msg *Message) *Reply {
	switch ParseAction(msg.Topic) {
	case ActionNewDevice:
		return r.handleNewDevice(msg)
	case ActionStoreJourney:
		return r.handleStoreJourney(msg)
	case ActionStoreEmergency:
		return r.handleStoreEmergency(msg)
	case ActionStoreUser:
		return r.handleStoreUser(msg)
	case ActionStoreProduct:
		return r.handleStoreProduct(msg)
	case ActionGetJourneys:
		return r.handleGetJourneys(msg)
	case ActionGetEmergencies:
		return r.handleGetEmergencies(msg)
	case ActionValidateUser:
		return r.handleValidateUser(msg)
	default:
		log.Warn().Str("topic", msg.Topic).Msg("Message received on unknown topic")
		return nil
	}
}

// handleNewDevice registers a device. The whole payload is the device id.
func (r *Router) handleNewDevice(msg *Message) *Reply {
	deviceID := strings.TrimSpace(string(msg.Payload))
	if deviceID == "" {
		log.Warn().Str("topic", msg.Topic).Msg("Empty device id")
		return nil
	}
	if err := r.store.StoreDevice(deviceID); err != nil {
		log.Error().Err(err).Str("device_id", deviceID).Msg("Failed to store device")
	}
	return nil
}

func (r *Router) handleStoreJourney(msg *Message) *Reply {
	fields, ok := splitFields(msg, 4, 4)
	if !ok {
		return nil
	}
	if err := r.store.StoreJourney(fields[0], fields[1], fields[2], fields[3]); err != nil {
		log.Error().Err(err).Str("device_id", fields[3]).Msg("Failed to store journey")
	}
	return nil
}

func (r *Router) handleStoreEmergency(msg *Message) *Reply {
	fields, ok := splitFields(msg, 3, 3)
	if !ok {
		return nil
	}
	if err := r.store.StoreEmergency(fields[0], fields[1], fields[2]); err != nil {
		log.Error().Err(err).Str("device_id", fields[2]).Msg("Failed to store emergency")
	}
	return nil
}

func (r *Router) handleStoreUser(msg *Message) *Reply {
	fields, ok := splitFields(msg, 3, 3)
	if !ok {
		return nil
	}
	username := fields[0]
	status, err := r.store.StoreUser(username, fields[1], fields[2])
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("Failed to store user")
		return nil
	}
	return &Reply{Topic: ValidReplyTopic(username), Payload: string(status)}
}

func (r *Router) handleStoreProduct(msg *Message) *Reply {
	fields, ok := splitFields(msg, 2, 2)
	if !ok {
		return nil
	}
	deviceID, username := fields[0], fields[1]
	status, err := r.store.StoreProduct(deviceID, username)
	if err != nil {
		log.Error().Err(err).Str("username", username).Str("device_id", deviceID).Msg("Failed to store product")
		return nil
	}
	return &Reply{Topic: ValidReplyTopic(username), Payload: string(status)}
}

func (r *Router) handleGetJourneys(msg *Message) *Reply {
	fields, ok := splitFields(msg, 1, 2)
	if !ok {
		return nil
	}
	username, deviceID := fields[0], optionalField(fields, 1)
	data, err := r.store.GetJourneys(username, deviceID)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("Failed to get journeys")
		return nil
	}
	return &Reply{Topic: EventsReplyTopic(username), Payload: data}
}

func (r *Router) handleGetEmergencies(msg *Message) *Reply {
	fields, ok := splitFields(msg, 1, 2)
	if !ok {
		return nil
	}
	username, deviceID := fields[0], optionalField(fields, 1)
	data, err := r.store.GetEmergencies(username, deviceID)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("Failed to get emergencies")
		return nil
	}
	return &Reply{Topic: EmergencyReplyTopic(username), Payload: data}
}

// handleValidateUser checks credentials. The third field is an opaque
// client id round-tripped into the reply topic so the requester can tell
// its reply apart from concurrent logins.
func (r *Router) handleValidateUser(msg *Message) *Reply {
	fields, ok := splitFields(msg, 3, 3)
	if !ok {
		return nil
	}
	username, password, clientID := fields[0], fields[1], fields[2]
	status, err := r.store.ValidateUser(username, password)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("Failed to validate user")
		return nil
	}
	return &Reply{Topic: ValidReplyTopic(clientID), Payload: string(status)}
}

// splitFields parses the `;`-delimited wire payload: fields in a fixed
// order with a trailing delimiter, whose final empty element is discarded.
// A field count outside [min, max] drops the message with a warning.
func splitFields(msg *Message, minFields, maxFields int) ([]string, bool) {
	parts := strings.Split(string(msg.Payload), ";")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < minFields || len(parts) > maxFields {
		log.Warn().
			Str("topic", msg.Topic).
			Int("fields", len(parts)).
			Msg("Malformed payload, dropping message")
		return nil, false
	}
	return parts, true
}

func optionalField(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}
