// Package driver exposes paired devices per category, weather stations
// and thermostats, to the API and MQTT surfaces.
//
// A Driver pairs devices from a live listing of an account, reads
// capability values through the sync scheduler and writes thermostat
// setpoints and programs to the cloud. Deleting a device never removes
// its account; the account registry refuses to drop an account while any
// driver still reports devices for it.
package driver
