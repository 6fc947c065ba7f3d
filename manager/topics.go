package main

// MQTT topic layout. Devices and the web frontend publish under
// PGL/request/...; replies go out under PGL/response/... with the
// requester's correlation id embedded so concurrent requesters only see
// their own responses.
const (
	MainTopic = "PGL"

	// RequestWildcard covers every inbound request topic.
	RequestWildcard = MainTopic + "/request/#"

	TopicNewDevice      = MainTopic + "/request/new_device"
	TopicStoreEvent     = MainTopic + "/request/store_event"
	TopicEmergency      = MainTopic + "/request/emergency"
	TopicStoreUser      = MainTopic + "/request/store_user"
	TopicStoreProduct   = MainTopic + "/request/store_product"
	TopicGetEvents      = MainTopic + "/request/get_events"
	TopicGetEmergencies = MainTopic + "/request/get_emergencies"
	TopicValidUser      = MainTopic + "/request/valid_user"

	responseValid      = MainTopic + "/response/valid"
	responseSendEvents = MainTopic + "/response/send_events"
	responseEmergency  = MainTopic + "/response/emergency"
)

// RequestTopics lists every known request topic. The listener publishes an
// empty retained payload to each of them when the connection drops, so the
// broker does not redeliver stale retained requests after a reconnect.
var RequestTopics = []string{
	TopicNewDevice,
	TopicStoreEvent,
	TopicEmergency,
	TopicStoreUser,
	TopicStoreProduct,
	TopicGetEvents,
	TopicGetEmergencies,
	TopicValidUser,
}

// ValidReplyTopic builds the validation reply topic for a correlation id
// (username or client id, depending on the action).
func ValidReplyTopic(id string) string {
	return responseValid + "/" + id + "/response"
}

// EventsReplyTopic builds the journey-query reply topic for a username.
func EventsReplyTopic(username string) string {
	return responseSendEvents + "/" + username + "/response"
}

// EmergencyReplyTopic builds the emergency-query reply topic for a username.
func EmergencyReplyTopic(username string) string {
	return responseEmergency + "/" + username + "/response"
}
