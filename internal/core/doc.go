// Package core provides the business logic behind the web UI and API.
//
// It is independent of any transport and can be used by web handlers, CLI
// tools, or tests without modification.
//
// # Sessions
//
// [Service.Upload] parses a CSV (or dataset JSON) file and opens a session.
// A session holds the original dataset, which is never modified, an ordered
// rule list and the result of the last cleaning pass. Rule edits mark the
// result stale; [Service.Preview] and [Service.Export] re-run the pass when
// needed. Idle sessions are closed after the configured TTL by
// [Service.StartMaintenance].
//
// # Cleaning Passes
//
// [Service.Clean] runs the session's rules through an [engine.Executor].
// Passes on one session are serialized; uploads and passes across sessions
// share a [Limiter] so a burst of large files cannot exhaust memory. Every
// pass is written to the run [History], in PostgreSQL when configured and in
// memory otherwise.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a code for support reference:
//
//   - FILE001-FILE006: File errors (size, format, no data)
//   - RULE001-RULE006: Rule errors (parameters, operation, template, limits)
//   - SES001-SES002: Session errors (expired, too many)
//   - UPL002-UPL005: Capacity and request errors (busy, cancelled, timeout)
//   - DB004, DB008: Run history errors
package core
