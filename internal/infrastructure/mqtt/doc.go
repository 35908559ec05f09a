// Package mqtt connects the console to an MQTT broker for the session event
// feed.
//
// Each console publishes its session events under its own client ID and a
// retained online/offline status, so operators can follow who is logged in
// where:
//
//	hms/console/{client_id}/status
//	hms/console/{client_id}/session/{event_type}
//
// The broker's Last Will marks a console offline if it dies without a
// graceful Close.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.SessionEvent(client.ClientID(), "login")
//	err = client.Publish(topic, payload, 1, false)
//
// Subscribe with Topics{}.AllSessionEvents() to follow every console.
package mqtt
