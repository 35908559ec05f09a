// Package influxdb records console session telemetry in InfluxDB v2.
//
// Writes are non-blocking and batched by the official client
// (batch_size, flush_interval); asynchronous write failures are reported
// through SetOnError. Connect and HealthCheck errors are returned directly.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePoint("session_events",
//	    map[string]string{"client": "frontdesk-01", "type": "login"},
//	    map[string]any{"user_id": "1"})
package influxdb
