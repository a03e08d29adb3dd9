// Package events defines the typed inbound event contract of a streaming
// session.
//
// A subscriber receives events in the order the transport received them.
// Every session stream ends with exactly one terminal event, either Closed or
// Error, after which nothing else is delivered.
//
//   - Suggestion (suggestion.received): text suggestion from the assistant
//     endpoint, with the comma separated next words already split out.
//   - Message (message.received): one chat message, either a reply from the
//     coach endpoint (BOT) or a locally echoed user message (USER).
//   - StateChanged (session.state_changed): the session moved to a new
//     non-terminal state.
//   - Closed (session.closed): the session ended normally.
//   - Error (session.error): the session failed; Err carries the reason.
package events
