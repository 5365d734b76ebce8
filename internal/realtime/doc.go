// Package realtime multiplexes live chat delivery, typing signals and presence
// over one WebSocket per client.
//
// A Gateway authenticates each connection and registers it in the Registry,
// keyed by user identity. Fanout resolves recipients for stored messages,
// TypingRelay forwards transient typing state and Presence announces who is
// online. Every push is non-blocking: each Session owns a buffered queue that
// its writer goroutine drains, so a slow client only loses its own frames.
package realtime
