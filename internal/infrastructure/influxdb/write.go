package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint writes a measurement with full control over tags and fields.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Writes on a disconnected client are silently dropped.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("bus_metrics",
//	    map[string]string{"site": "gallery-north"},
//	    map[string]interface{}{"event_count": 1204, "error_count": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writer.WritePoint(point)
}

// WritePointWithTime writes a measurement with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., replayed or delayed
// data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writer.WritePoint(point)
}
