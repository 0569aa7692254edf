// Package kafka exports lock log entries to a Kafka topic.
//
// Each entry becomes one JSON message keyed by device ID, so a consumer
// reading a single partition sees one device's history in append order.
// The writer runs asynchronously; delivery failures are reported through
// the callback passed to New and never block the ingest path.
package kafka
