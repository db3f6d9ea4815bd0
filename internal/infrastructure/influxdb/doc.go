// Package influxdb writes time-series data to InfluxDB v2.
//
// Two measurements are written:
//
//	capability  tags device_id, capability   field value (float)
//	refresh     tags account_id, result      fields success, duration_ms
//
// Writes go through the batching write API of influxdb-client-go and
// never block; asynchronous write failures reach the SetOnError callback.
// The integration is optional and Connect returns ErrDisabled when it is
// switched off.
package influxdb
