// Package transport serves SHDR lines to any number of agent connections.
//
// A Server accepts TCP connections, tracks them in a registry under a
// stable id, answers "* PING" heartbeats with "* PONG <ms>" and fans every
// WriteLine call out to all registered connections concurrently.
//
// Delivery is best effort per peer: a failed write to one connection is
// reported as an EventSendError and flips the aggregate result to false,
// but the other connections still receive the line and the failed
// connection stays registered. Connections are removed only when their
// reader observes EOF or a read error.
//
// A ConnectHandler runs synchronously for every accepted connection before
// it is visible to broadcasts, so a replay of the last known state always
// reaches a new reader ahead of any periodic data. The handler decides when
// the connection joins the broadcast set by calling attach, which lets a
// caller attach under the same lock that orders its own flushes.
//
// Lifecycle events are delivered on a buffered channel and to an optional
// Listener. The emitter never blocks: when the channel is full the event is
// dropped and counted.
package transport
