// Package influxdb exports the lock log to InfluxDB.
//
// Every entry the journal appends (status reports, synthesized offline
// entries and dispatched commands) is written as a "lock_event" point
// stamped with the entry's own timestamp, so dashboards can chart lock
// availability over time:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	journal.AddObserver(client)
//
// Writes are batched and never block the caller. Batch failures are
// delivered to the callback registered with SetOnError.
package influxdb
