// Package module hosts the runtime units of a Lumen installation:
// timers, loopbacks and any other message producers or consumers that
// hang off the bus.
//
// A module is addressed by its instance ID. The manager subscribes each
// running module to the bus delivery topic for its ID, so declarative
// routes targeting that ID land in the module's Handle method. Modules
// publish back through the environment they receive at start, and
// persist their state through the same environment, which the manager
// wires to the autosave loop.
//
// New module kinds register a Factory with the manager; instances are
// declared in config.yaml and can be reloaded at runtime.
package module
