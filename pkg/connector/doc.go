// Package connector ties the short-message engine together.
//
// A Connector owns one channel per configured transport. Each channel
// pairs a transport.Lifecycle with the short-message layer for its link:
// the envelope (UDP header, SMS text or stream segments), a message.Codec
// and a message.Reassembler. Sessions live in a session.Manager whose
// gate is the lifecycle state, and their traffic is routed to facilities
// through a facility.Dispatcher.
//
// All protocol work happens in Step, which the host calls from a single
// goroutine (Run does this on a ticker):
//
//  1. poll the lifecycles, reconnecting transports whose delay passed
//  2. read every received unit and dispatch complete messages
//  3. time out expired sessions and prune stale partial messages
//  4. announce capabilities on fresh connections, drain the data queues,
//     collect outbound messages from facilities and send them, bundled
//     into pack commands where the transport allows it
//
// Facility callbacks run inside Step. They must not call the methods that
// take the step lock (Step, StartTransport, StopTransport, Redirect,
// SetMaxSessions, SetReconnectDelay). SendPing, SendData, OpenSession,
// CancelSession and CancelAll may be called from anywhere, including a
// callback processing the session being cancelled: the session is retired
// immediately and its facility is freed on the step goroutine.
package connector
