package tipjar

import (
	"strconv"

	"tipjar/core/events"
	"tipjar/core/identity"
	"tipjar/core/types"
)

const (
	// EventTypeProfileCreated is emitted when a creator registers a profile.
	EventTypeProfileCreated = "tipjar.profile.created"
	// EventTypeProfileUpdated is emitted when a creator edits name or bio.
	EventTypeProfileUpdated = "tipjar.profile.updated"
	// EventTypeTipSent is emitted when a tip lands in a creator's escrow.
	EventTypeTipSent = "tipjar.tip.sent"
	// EventTypeTipsWithdrawn is emitted when a creator withdraws from escrow.
	EventTypeTipsWithdrawn = "tipjar.tips.withdrawn"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

// ProfileCreatedEvent announces a new profile.
func ProfileCreatedEvent(profile identity.Identity, owner [20]byte, name string) *types.Event {
	return &types.Event{
		Type: EventTypeProfileCreated,
		Attributes: map[string]string{
			"profile": profile.String(),
			"owner":   addrString(owner),
			"name":    name,
		},
	}
}

// ProfileUpdatedEvent announces a name or bio change.
func ProfileUpdatedEvent(profile identity.Identity, name string) *types.Event {
	return &types.Event{
		Type: EventTypeProfileUpdated,
		Attributes: map[string]string{
			"profile": profile.String(),
			"name":    name,
		},
	}
}

// TipSentEvent returns the structured event payload for tip activity.
func TipSentEvent(profile, tip identity.Identity, tipper [20]byte, amount, tipCount uint64) *types.Event {
	return &types.Event{
		Type: EventTypeTipSent,
		Attributes: map[string]string{
			"profile":  profile.String(),
			"tip":      tip.String(),
			"tipper":   addrString(tipper),
			"amount":   formatUint(amount),
			"tipCount": formatUint(tipCount),
		},
	}
}

// TipsWithdrawnEvent returns the structured event payload for withdrawals.
func TipsWithdrawnEvent(profile, withdrawal identity.Identity, owner [20]byte, amount, escrow uint64) *types.Event {
	return &types.Event{
		Type: EventTypeTipsWithdrawn,
		Attributes: map[string]string{
			"profile":       profile.String(),
			"withdrawal":    withdrawal.String(),
			"owner":         addrString(owner),
			"amount":        formatUint(amount),
			"escrowBalance": formatUint(escrow),
		},
	}
}
