// Package notify is the notification dispatch engine.
//
// A Service owns a channel registry and a template store, and sends through
// a transport.Set into a ledger.Ledger. Every send produces exactly one
// Result, returned synchronously:
//
//   - unknown channel     → channel_not_found
//   - disabled channel    → channel_disabled (no transport call)
//   - no recipients       → invalid_request
//   - unknown template    → template_not_found
//   - strict render miss  → render
//   - transport error     → transport (panics included)
//   - ledger write error  → ledger
//   - success             → new message id, one "sent" ledger entry
//
// Channels are not validated at send time. A misconfigured but enabled
// channel fails in its transport; ValidateChannel is the explicit check.
//
// Bulk sends fan out over an errgroup, optionally bounded, and collect
// results by position. No request's failure affects another's.
package notify
