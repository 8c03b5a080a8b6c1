// Package telemetry exports bus metrics to time-series storage.
//
// The exporter snapshots the bus monitor on a fixed interval and writes
// one point per snapshot, tagged with the site identifier so multiple
// installations can share a bucket. Writes go through a narrow Writer
// interface so the exporter never blocks on storage; the InfluxDB
// client batches asynchronously behind it.
package telemetry
