package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"stagecast/internal/channel"
)

// registerListeners wires every session event kind into the view model.
// Everything registered here is removed in bulk by RemoveSessionListeners
// during Ending and forced teardown.
func (c *Controller) registerListeners() {
	c.events.On(channel.EventInitialState, listenerName, func(payload json.RawMessage) {
		var st channel.InitialState
		if err := json.Unmarshal(payload, &st); err != nil {
			c.logger.Warn().Err(err).Msg("bad initial-state payload")
			return
		}
		c.view.ApplySnapshot(st, time.Now())
	})

	c.events.On(channel.EventChatMessage, listenerName, func(payload json.RawMessage) {
		var msg channel.ChatMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("bad chat payload")
			return
		}
		c.view.Append(channel.ChannelEvent{
			Kind:       channel.KindChat,
			ReceivedAt: time.Now(),
			Chat:       &msg,
		})
	})

	c.events.On(channel.EventGiftReceived, listenerName, func(payload json.RawMessage) {
		var gift channel.Gift
		if err := json.Unmarshal(payload, &gift); err != nil {
			c.logger.Warn().Err(err).Msg("bad gift payload")
			return
		}
		c.view.Append(channel.ChannelEvent{
			Kind:       channel.KindGift,
			ReceivedAt: time.Now(),
			Gift:       &gift,
		})
	})

	c.events.On(channel.EventViewerJoined, listenerName, func(payload json.RawMessage) {
		c.applyViewerUpdate(payload, channel.KindJoin, "joined")
	})

	c.events.On(channel.EventViewerLeft, listenerName, func(payload json.RawMessage) {
		c.applyViewerUpdate(payload, channel.KindLeave, "left")
	})

	c.events.On(channel.EventSessionEnded, listenerName, func(payload json.RawMessage) {
		c.view.Append(channel.ChannelEvent{
			Kind:       channel.KindSystem,
			ReceivedAt: time.Now(),
			Text:       "broadcast ended by the server",
		})
	})

	c.events.On(channel.EventSettingsUpdated, listenerName, func(payload json.RawMessage) {
		var settings channel.SessionSettings
		if err := json.Unmarshal(payload, &settings); err != nil {
			c.logger.Warn().Err(err).Msg("bad settings payload")
			return
		}
		c.view.SetSettings(settings)
	})

	// A server-pushed error is surfaced but does not tear the session down.
	c.events.On(channel.EventError, listenerName, func(payload json.RawMessage) {
		var ev channel.ErrorEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("bad error payload")
			return
		}
		c.mu.Lock()
		c.lastErr = &channel.ChannelError{Message: ev.Message}
		c.mu.Unlock()
		c.view.Append(channel.ChannelEvent{
			Kind:       channel.KindSystem,
			ReceivedAt: time.Now(),
			Text:       "channel error: " + ev.Message,
		})
	})
}

// applyViewerUpdate replaces the viewer count and logs the join/leave line.
func (c *Controller) applyViewerUpdate(payload json.RawMessage, kind channel.EventKind, verb string) {
	var update channel.ViewerUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		c.logger.Warn().Err(err).Msg("bad viewer payload")
		return
	}
	c.view.SetViewerCount(update.CurrentViewers)

	who := update.DisplayName
	if who == "" {
		who = "a viewer"
	}
	c.view.Append(channel.ChannelEvent{
		Kind:       kind,
		ReceivedAt: time.Now(),
		Text:       fmt.Sprintf("%s %s", who, verb),
	})
}
