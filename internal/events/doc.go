// Package events carries task lifecycle notifications from the queue to
// interested components without coupling them to the store.
//
// The queue stays poll based: clients read task state from the API. Events
// are a side channel layered on top, used for logging and for publishing
// status changes to Redis.
package events
