package state

import "errors"

// Domain errors for the state package.
var (
	// ErrRouteNotFound is returned when a route ID does not exist in
	// the store.
	ErrRouteNotFound = errors.New("state: route not found")

	// ErrModuleStateNotFound is returned when no state has been saved
	// for a module ID.
	ErrModuleStateNotFound = errors.New("state: module state not found")
)
