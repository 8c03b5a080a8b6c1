package mqtt

import "strings"

// topicPrefix is the root of Lumen's MQTT namespace.
const topicPrefix = "lumen"

// Topics builds the MQTT topic strings used by Lumen. The zero value
// is ready to use:
//
//	mqtt.Topics{}.Event("sensor.motion", "triggered")
type Topics struct{}

// SystemStatus is the retained online/offline status topic, also used
// as the Last Will topic.
func (Topics) SystemStatus() string {
	return topicPrefix + "/system/status"
}

// Event is the export topic for a bus message. Dots in the source and
// event are flattened to dashes so bus names never collide with MQTT
// level separators.
func (Topics) Event(source, event string) string {
	return topicPrefix + "/events/" + flatten(source) + "/" + flatten(event)
}

// AllEvents is the wildcard covering every exported bus message.
func (Topics) AllEvents() string {
	return topicPrefix + "/events/#"
}

// flatten makes a bus name safe as a single MQTT topic level.
func flatten(name string) string {
	return strings.ReplaceAll(name, ".", "-")
}
