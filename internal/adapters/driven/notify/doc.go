// Package notify provides failure notifiers for sync sessions.
//
// Notifiers:
//   - LogNotifier: writes an error record through the application logger
//   - WebhookNotifier: POSTs a JSON summary to an HTTP endpoint
//   - Multi: fans out to several notifiers
package notify
