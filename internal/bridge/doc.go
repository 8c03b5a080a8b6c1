// Package bridge mirrors bus traffic to and from an MQTT broker.
//
// Exported messages let external systems (media servers, show control,
// dashboards) watch the installation live; imported topics let them
// inject messages without touching the HTTP API. Import and export are
// independently configured, and imported traffic is marked so it is
// never exported back out (no broker loops).
package bridge
