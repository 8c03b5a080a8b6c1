// Package mqtt wraps paho.mqtt.golang for the Lumen MQTT bridge.
//
// It provides connection management with automatic reconnection and
// subscription restoration, publish/subscribe with validation and
// timeouts, Last Will and Testament for offline detection, and panic
// recovery around message handlers.
//
// Topic layout (see Topics):
//
//	lumen/system/status              online/offline status (retained)
//	lumen/events/{source}/{event}    bus messages exported by the bridge
//	arbitrary import topics          injected into the bus by the bridge
//
// Thread Safety: all methods are safe for concurrent use.
package mqtt
