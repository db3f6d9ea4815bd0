// Package mqtt connects the sync service to an MQTT broker.
//
// Capability values are published retained on
// netatmo/state/{device}/{capability}, so a consumer that subscribes late
// still sees the current state. Writes arrive on
// netatmo/command/{device}/{capability}. Account session state, refresh
// outcomes and operator errors have topics of their own; see Topics.
//
// The client reconnects on its own and restores its subscriptions. A last
// will marks the service offline on netatmo/system/status when the
// connection drops without a clean Close.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handleCommand)
package mqtt
