// Package liveness decides whether each lock is reachable and keeps the
// lock history honest about the periods when it was not.
//
// Devices publish status reports over MQTT but never announce that they
// are going away. A lock that has not reported for longer than the offline
// threshold is treated as offline, and an Offline entry is written to the
// lock history at the moment the threshold was crossed:
//
//   - on the next report, if the gap since the previous report exceeds the
//     threshold (Synthesizer.OnRecord)
//   - on a periodic sweep, for devices that never report again
//     (Synthesizer.OnSweep, driven by Sweeper)
//
// The synthetic entry is timestamped last_seen + threshold, never the
// detection time, so offline periods can be reconstructed from the log
// alone. A gap is closed at most once, whichever path sees it first.
//
// Components:
//
//   - Tracker: in-memory last-seen record per device
//   - Synthesizer: writes Offline entries for reporting gaps
//   - Sweeper: ticker loop that runs the synthesizer over every device
//   - Ingestor: validates and applies status reports
//   - Guard: refuses to send commands to devices that are not online
//   - Journal: retried writes to the registry and log store, with
//     fan-out of appended entries to observers
//
// Arrival order is authoritative. Reports carry no sequence number, so a
// report whose arrival time precedes the recorded last_seen is discarded.
package liveness
