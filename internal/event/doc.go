// Package event provides the deliberation event bus used for live
// observability and audit of committee decisions.
//
// Every step of a deliberation (a proposal arriving, a stance revised, a
// round tallied, the final synthesis) is emitted as a [Message] keyed by
// contract id. The [Bus] keeps an append-only history per contract and fans
// each message out to live subscribers.
//
// # Main Types
//
//   - [Message]: one timestamped deliberation step, the wire format for any
//     viewer or report
//   - [Bus]: per-contract history plus pub-sub fan-out
//   - [Subscription]: a buffered, ordered channel feed of one contract
//   - [Emitter]: the interface pipeline components emit through
//
// # Delivery Guarantees
//
// Messages of a single contract reach every subscriber in emission order,
// even while other contracts emit concurrently. Emission never blocks on a
// slow subscriber: each subscription has a bounded buffer and the oldest
// pending message is dropped when it overflows ([Subscription.Dropped]
// counts the losses). [Bus.SubscribeAll] handlers run synchronously after
// channel delivery and are protected against panics.
//
// # Basic Usage
//
//	bus := event.NewBus(event.WithBufferSize(64))
//
//	history, sub := bus.SubscribeWithHistory("c-42")
//	defer sub.Close()
//	for msg := range sub.C() {
//	    fmt.Println(msg.Phase, msg.MessageType, msg.AgentID)
//	}
//
// # Retention
//
// Histories live in memory until [Bus.Cleanup] removes those whose last
// message is older than a maximum age. [Bus.RunCleanup] runs that sweep on
// a ticker.
package event
