// Package connector implements Quarry's outbound connectors. The Discord
// notifier posts bans, kicks, health warnings and server lifecycle events
// to a Discord webhook.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/quarry/internal/config"
	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/util"
)

// ErrDisabled is returned by NewDiscordNotifier when notifications are off.
var ErrDisabled = errors.New("Discord notifications are disabled")

// Notification levels, which pick the embed colour.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

var notifyEvents = []events.EventType{
	events.EventServerStarted,
	events.EventShutdown,
	events.EventHealthWarning,
	events.EventBanChanged,
	events.EventPlayerKicked,
}

// DiscordNotifier forwards selected bus events to a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	eventBus   *events.EventBus
	logger     zerolog.Logger
}

// NewDiscordNotifier creates a notifier from cfg.
func NewDiscordNotifier(cfg config.DiscordConfig, eventBus *events.EventBus) (*DiscordNotifier, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.WebhookURL == "" {
		return nil, errors.New("Discord webhook URL is empty")
	}
	return newNotifier(cfg.WebhookURL, &http.Client{Timeout: 10 * time.Second}, eventBus), nil
}

func newNotifier(webhookURL string, client *http.Client, eventBus *events.EventBus) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     client,
		eventBus:   eventBus,
		logger:     util.ComponentLogger("discord"),
	}
}

// Start forwards events until ctx is cancelled.
func (dn *DiscordNotifier) Start(ctx context.Context) {
	dn.eventBus.Subscribe("discord", dn.onEvent, notifyEvents...)
	dn.logger.Info().Msg("Discord notifications enabled")

	<-ctx.Done()
	for _, t := range notifyEvents {
		dn.eventBus.Unsubscribe(t, "discord")
	}
}

// Send posts one embed to the webhook.
func (dn *DiscordNotifier) Send(ctx context.Context, title, message, level string) error {
	var color int
	switch level {
	case LevelError:
		color = 0xFF0000
	case LevelWarning:
		color = 0xFFAA00
	default:
		color = 0x00AA55
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": message,
				"color":       color,
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
				"footer": map[string]string{
					"text": "Quarry",
				},
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dn.webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := dn.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	dn.logger.Debug().Str("title", title).Msg("Discord webhook notification sent")
	return nil
}

// onEvent outlives the emitter's context, which may be an HTTP request.
func (dn *DiscordNotifier) onEvent(ctx context.Context, e events.Event) error {
	title, message, level := describe(e)
	if title == "" {
		return nil
	}
	return dn.Send(context.WithoutCancel(ctx), title, message, level)
}

// describe renders an event as an embed. An empty title means skip.
func describe(e events.Event) (title, message, level string) {
	switch e.Type {
	case events.EventServerStarted:
		addr := ""
		if m, ok := e.Payload.(map[string]interface{}); ok {
			addr, _ = m["address"].(string)
		}
		return "Server started", fmt.Sprintf("Listening on %s", addr), LevelInfo

	case events.EventShutdown:
		return "Server shutting down", fmt.Sprintf("Requested by %s", e.Source), LevelWarning

	case events.EventHealthWarning:
		p, ok := e.Payload.(events.HealthPayload)
		if !ok {
			return "", "", ""
		}
		return "Health warning: " + p.Check, p.Message, LevelWarning

	case events.EventBanChanged:
		p, ok := e.Payload.(events.BanPayload)
		if !ok {
			return "", "", ""
		}
		if p.Removed {
			return "Ban lifted", fmt.Sprintf("%s %s unbanned by %s", p.Kind, p.Target, e.Source), LevelInfo
		}
		msg := fmt.Sprintf("%s %s banned by %s", p.Kind, p.Target, e.Source)
		if p.Reason != "" {
			msg += "\nReason: " + p.Reason
		}
		return "Ban added", msg, LevelWarning

	case events.EventPlayerKicked:
		p, ok := e.Payload.(events.KickPayload)
		if !ok {
			return "", "", ""
		}
		return "Connection kicked", fmt.Sprintf("Connection %d kicked by %s: %s", p.ConnID, p.By, p.Reason), LevelInfo
	}
	return "", "", ""
}
