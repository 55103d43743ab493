// Package influxdb records light history in InfluxDB v2.
//
// # Measurements
//
//   - light_state: power, brightness and colour each time a light reports
//     a change (tags: light_id, name, model)
//   - light_connection: connect and disconnect transitions (tags:
//     light_id, address)
//
// Writes are batched and non-blocking. Repeated identical states for a
// light are skipped until it disconnects. Failed batches are logged and
// counted in Stats, which /metrics reports.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, log.Component("influxdb"))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteConnectionEvent("0x000000000015243f", "192.168.1.20:55443", "connected", "")
package influxdb
