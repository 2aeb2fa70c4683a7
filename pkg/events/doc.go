/*
Package events implements the control plane's broadcast event bus.

A Broker fans out typed Events to every Subscriber over a bounded,
per-subscriber buffered channel. Publish never blocks the producer: a
subscriber whose buffer is full has the event dropped and its
DroppedCount incremented, surfaced via SubscriberStats.
*/
package events
