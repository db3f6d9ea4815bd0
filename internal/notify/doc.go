// Package notify connects the sync core to its outer sinks.
//
// Notifier publishes every capability transition retained on MQTT, writes
// numeric values to InfluxDB and appends them to the local history. It
// also publishes account status and refresh outcomes.
//
// Reporter is the operator error channel used by the account registry and
// the scheduler. Commands turns MQTT command messages into driver writes.
package notify
