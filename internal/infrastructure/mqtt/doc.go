// Package mqtt connects smartlockd to the MQTT broker that lock devices
// talk to.
//
// Devices publish status reports on {prefix}/status; smartlockd publishes
// LOCK/UNLOCK commands on {prefix}/commands. smartlockd announces its own
// presence, retained, on {prefix}/system/status with an LWT for crashes.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().Status(), 1, ingestor.HandleMessage)
package mqtt
