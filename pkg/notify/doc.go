// Package notify sends push notifications to participant devices.
//
// Dispatcher is the boundary the scheduler depends on: it takes device push
// tokens and a Payload and returns one Result per batch with success and
// failure counts. Succeeded applies the delivery rule used to decide whether
// an allocation was reminded.
//
// HTTPDispatcher talks to an Expo-compatible push endpoint, batching tokens
// (100 per request by default). LogDispatcher only logs and is meant for
// local runs.
package notify
