// Package collector implements a development ingestion endpoint for
// toolmeter events.
//
// It accepts the same requests as the hosted endpoint: an authenticated POST
// of {"events": [...]} with 1 to 25 events. Each event is validated against
// the embedded JSON schema independently, and the response reports how many
// were processed or skipped with a per-index error for every skipped event.
// Accepted events are logged and the most recent ones are returned by GET on
// the same path.
//
// Point a server at it with TOOLMETER_ENDPOINT=http://localhost:8089/v1/events.
package collector
