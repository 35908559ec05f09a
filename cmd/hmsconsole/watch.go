package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/config"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/mqtt"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/session"
)

// runWatch prints the session events every console publishes until ctx is
// cancelled. It connects under its own client ID so it never takes over a
// running console's connection or status topic.
func runWatch(ctx context.Context, cfg *config.Config, out io.Writer) error {
	log := logging.New(cfg.Logging, version)

	mqttCfg := cfg.MQTT
	mqttCfg.Broker.ClientID = cfg.Console.ClientID + "-watch"
	client, err := mqtt.Connect(mqttCfg)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	client.SetLogger(log)

	var mu sync.Mutex
	err = client.SubscribeSessionEvents(func(clientID, _ string, payload []byte) error {
		var e session.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("decoding session event from %s: %w", clientID, err)
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, formatEvent(clientID, e))
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to session events: %w", err)
	}
	log.Info("watching session events", "topic", mqtt.Topics{}.AllSessionEvents())

	<-ctx.Done()
	return nil
}

// formatEvent renders one event as a single line.
func formatEvent(clientID string, e session.Event) string {
	line := fmt.Sprintf("%s %s %s state=%s", e.Time.Local().Format(time.TimeOnly), clientID, e.Type, e.State)
	if e.UserID != "" {
		line += fmt.Sprintf(" user=%s role=%s", e.UserID, e.Role)
	}
	if e.TenantID != "" {
		line += " tenant=" + string(e.TenantID)
	}
	if e.Type == session.EventRenewed || e.Type == session.EventRenewalFailed {
		trigger := "proactive"
		if e.Reactive {
			trigger = "reactive"
		}
		line += fmt.Sprintf(" trigger=%s waiters=%d duration=%s", trigger, e.Waiters, e.Duration.Round(time.Millisecond))
	}
	if e.Class != "" {
		line += " class=" + e.Class
	}
	if e.Error != "" {
		line += fmt.Sprintf(" error=%q", e.Error)
	}
	return line
}
