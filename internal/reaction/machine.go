// Package reaction maps inbound reaction events onto raid state
// transitions. The machine is stateless across calls: every event is
// classified once against the channel's current symbol bindings and
// dispatched.
package reaction

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/azelphur/ekpogo/internal/audit"
	"github.com/azelphur/ekpogo/internal/mirror"
	"github.com/azelphur/ekpogo/internal/platform"
	"github.com/azelphur/ekpogo/internal/raid"
	"github.com/azelphur/ekpogo/internal/settings"
	"github.com/azelphur/ekpogo/internal/subscription"
)

// Action is what a bound reaction symbol does
type Action int

const (
	ActionNone Action = iota
	ActionJoin
	ActionPlus1
	ActionMinus1
	ActionAddTime
	ActionRemoveTime
	ActionDone
)

// Event is one inbound reaction add or remove
type Event struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Emoji     string
}

// Machine dispatches reaction events
type Machine struct {
	registry  *raid.Registry
	resolver  *settings.Resolver
	sync      *mirror.Sync
	subs      *subscription.Manager
	audit     *audit.Logger
	messenger platform.Messenger
}

// NewMachine creates the reaction state machine
func NewMachine(registry *raid.Registry, resolver *settings.Resolver, sync *mirror.Sync, subs *subscription.Manager, auditLog *audit.Logger, messenger platform.Messenger) *Machine {
	return &Machine{
		registry:  registry,
		resolver:  resolver,
		sync:      sync,
		subs:      subs,
		audit:     auditLog,
		messenger: messenger,
	}
}

var customEmojiRE = regexp.MustCompile(`^<a?:(.+:\d+)>$`)

// normalizeEmoji reduces both configured bindings and inbound event
// emoji to a comparable form: "name:id" for custom emoji, the raw
// symbol otherwise
func normalizeEmoji(emoji string) string {
	if match := customEmojiRE.FindStringSubmatch(emoji); match != nil {
		return match[1]
	}
	return strings.TrimSpace(emoji)
}

// bindings builds the symbol classification table for a channel. The
// table is configuration, not code: rebinding an emoji changes
// dispatch without touching the machine.
func bindings(e settings.Emoji) map[string]Action {
	return map[string]Action{
		normalizeEmoji(e.Going):      ActionJoin,
		normalizeEmoji(e.Plus1):      ActionPlus1,
		normalizeEmoji(e.Minus1):     ActionMinus1,
		normalizeEmoji(e.AddTime):    ActionAddTime,
		normalizeEmoji(e.RemoveTime): ActionRemoveTime,
		normalizeEmoji(e.Done):       ActionDone,
	}
}

// HandleReaction processes one inbound reaction event. Events on
// messages that are not raid mirrors, and symbols with no active
// binding, are ignored. Events on the same raid are serialized in
// arrival order.
func (m *Machine) HandleReaction(ctx context.Context, ev Event) error {
	mirrorRow, err := m.registry.MirrorByMessage(ev.ChannelID, ev.MessageID)
	if errors.Is(err, raid.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	unlock := m.registry.LockRaid(mirrorRow.RaidID)
	defer unlock()

	scope := settings.Scope{GuildID: ev.GuildID, ChannelID: ev.ChannelID}
	emoji := m.resolver.GetEmoji(scope)

	m.repairReactions(ctx, scope, ev.ChannelID, ev.MessageID, emoji)

	switch bindings(emoji)[normalizeEmoji(ev.Emoji)] {
	case ActionJoin:
		return m.toggleGoing(ctx, ev, mirrorRow.RaidID)
	case ActionPlus1:
		return m.adjustExtra(ctx, ev, mirrorRow.RaidID, +1)
	case ActionMinus1:
		return m.adjustExtra(ctx, ev, mirrorRow.RaidID, -1)
	case ActionAddTime:
		return m.nudgeTime(ctx, ev, mirrorRow.RaidID, scope, +1)
	case ActionRemoveTime:
		return m.nudgeTime(ctx, ev, mirrorRow.RaidID, scope, -1)
	case ActionDone:
		return m.toggleDone(ctx, ev, mirrorRow.RaidID, scope)
	default:
		return nil
	}
}

// repairReactions reconciles the message's actual reaction set against
// the expected six bound symbols, guarding against external reaction
// loss or duplication. Drift is repaired by clearing and re-adding.
// Best effort: repair failures never block the triggering event.
func (m *Machine) repairReactions(ctx context.Context, scope settings.Scope, channelID, messageID string, emoji settings.Emoji) {
	actual, err := m.messenger.MessageReactions(ctx, channelID, messageID)
	if err != nil {
		slog.Debug("Failed to read reactions for repair", "channel", channelID, "error", err)
		return
	}

	expected := make(map[string]struct{}, 6)
	for _, e := range emoji.All() {
		expected[normalizeEmoji(e)] = struct{}{}
	}

	drifted := len(actual) != len(expected)
	if !drifted {
		for _, e := range actual {
			if _, ok := expected[normalizeEmoji(e)]; !ok {
				drifted = true
				break
			}
		}
	}
	if !drifted {
		return
	}

	if err := m.messenger.ClearReactions(ctx, channelID, messageID); err != nil {
		slog.Debug("Failed to clear reactions for repair", "channel", channelID, "error", err)
		return
	}
	if err := m.sync.AddReactions(ctx, scope, channelID, messageID); err != nil {
		slog.Debug("Failed to re-add reactions for repair", "channel", channelID, "error", err)
	}
}

// toggleGoing flips a user's attendance. Joining also subscribes the
// user to the raid's attendee group; leaving unsubscribes and retires
// the group when nobody remains.
func (m *Machine) toggleGoing(ctx context.Context, ev Event, raidID int64) error {
	group := subscription.RaidGroupName(raidID)

	going, err := m.registry.IsGoing(raidID, ev.UserID)
	if err != nil {
		return err
	}

	if going {
		if err := m.registry.Leave(raidID, ev.UserID); err != nil {
			return err
		}
		if err := m.subs.Unsubscribe(ctx, ev.GuildID, ev.UserID, group); err != nil && !errors.Is(err, platform.ErrNotFound) {
			slog.Warn("Failed to unsubscribe from raid group", "raid", raidID, "user", ev.UserID, "error", err)
		}
		m.audit.Logf(ctx, ev.GuildID, "<@%s> is no longer going to raid #%d", ev.UserID, raidID)
	} else {
		if _, err := m.registry.Join(raidID, ev.UserID, 0); err != nil {
			return err
		}
		if err := m.subs.Subscribe(ctx, ev.GuildID, ev.UserID, group); err != nil {
			slog.Warn("Failed to subscribe to raid group", "raid", raidID, "user", ev.UserID, "error", err)
		}
		m.audit.Logf(ctx, ev.GuildID, "<@%s> is going to raid #%d", ev.UserID, raidID)
	}

	return m.sync.RefreshAll(ctx, raidID)
}

// adjustExtra shifts the reacting user's extra headcount. Users
// without an attendance row, and decrements at zero, are ignored with
// no mutation and no re-render.
func (m *Machine) adjustExtra(ctx context.Context, ev Event, raidID int64, delta int) error {
	value, changed, err := m.registry.AdjustExtra(raidID, ev.UserID, delta)
	if errors.Is(err, raid.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	m.audit.Logf(ctx, ev.GuildID, "<@%s> brings +%d to raid #%d", ev.UserID, value, raidID)
	return m.sync.RefreshAll(ctx, raidID)
}

// nudgeTime shifts the raid's start time by the channel's edit
// increment. Any reacting user may nudge; only completion is gated.
func (m *Machine) nudgeTime(ctx context.Context, ev Event, raidID int64, scope settings.Scope, direction int) error {
	increment := m.resolver.GetMinutes(scope, "edit_time", settings.DefaultEditTimeMinutes)
	delta := time.Duration(direction) * increment

	if err := m.registry.NudgeStart(raidID, delta); err != nil {
		return err
	}

	m.audit.Logf(ctx, ev.GuildID, "<@%s> moved raid #%d start by %s", ev.UserID, raidID, delta)
	return m.sync.RefreshAll(ctx, raidID)
}

// toggleDone flips a raid's completion state. Only users holding the
// moderation capability may complete; events from other users are
// silently ignored rather than errored.
func (m *Machine) toggleDone(ctx context.Context, ev Event, raidID int64, scope settings.Scope) error {
	allowed, err := m.messenger.HasModerationCapability(ctx, ev.ChannelID, ev.UserID)
	if err != nil {
		return err
	}
	if !allowed {
		return nil
	}

	r, err := m.registry.Get(raidID)
	if err != nil {
		return err
	}

	return m.Complete(ctx, ev.GuildID, raidID, !r.Done, ev.UserID)
}

// Complete sets a raid's done state through the single completion
// path shared by manual toggles and the expiry scheduler. Completing
// retracts mirrors in delete-on-done channels and retires the raid's
// attendee group; un-completing republishes to those channels.
func (m *Machine) Complete(ctx context.Context, guildID string, raidID int64, done bool, actorID string) error {
	if err := m.registry.SetDone(raidID, done); err != nil {
		return err
	}

	deleteOn, err := m.resolver.MirrorChannels(guildID, "delete_on_done")
	if err != nil {
		slog.Warn("Failed to resolve delete_on_done channels", "guild", guildID, "error", err)
		deleteOn = nil
	}

	if done {
		for _, channelID := range deleteOn {
			if err := m.sync.Retract(ctx, raidID, channelID); err != nil {
				slog.Warn("Failed to retract mirror on completion", "raid", raidID, "channel", channelID, "error", err)
			}
		}
		if err := m.subs.Destroy(ctx, guildID, subscription.RaidGroupName(raidID)); err != nil {
			slog.Warn("Failed to retire raid group", "raid", raidID, "error", err)
		}
	} else if len(deleteOn) > 0 {
		if _, err := m.sync.Publish(ctx, guildID, raidID, deleteOn, false); err != nil {
			slog.Warn("Failed to republish mirrors", "raid", raidID, "error", err)
		}
	}

	actor := "the scheduler"
	if actorID != "" {
		actor = "<@" + actorID + ">"
	}
	if done {
		m.audit.Logf(ctx, guildID, "raid #%d marked done by %s", raidID, actor)
	} else {
		m.audit.Logf(ctx, guildID, "raid #%d reopened by %s", raidID, actor)
	}

	return m.sync.RefreshAll(ctx, raidID)
}

// HandleMessageDelete reacts to the platform deleting a message out
// from under us. Deleting any mirror of a raid deletes the raid: the
// remaining mirrors are torn down and the record cascades away.
func (m *Machine) HandleMessageDelete(ctx context.Context, channelID, messageID string) error {
	mirrorRow, err := m.registry.MirrorByMessage(channelID, messageID)
	if errors.Is(err, raid.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	unlock := m.registry.LockRaid(mirrorRow.RaidID)
	defer unlock()

	mirrors, err := m.registry.Mirrors(mirrorRow.RaidID)
	if err != nil {
		return err
	}
	for _, other := range mirrors {
		if other.ChannelID == channelID && other.MessageID == messageID {
			continue
		}
		if err := m.messenger.DeleteMessage(ctx, other.ChannelID, other.MessageID); err != nil && !errors.Is(err, platform.ErrNotFound) {
			slog.Warn("Failed to delete sibling mirror", "raid", mirrorRow.RaidID, "channel", other.ChannelID, "error", err)
		}
	}

	m.audit.Logf(ctx, mirrorRow.GuildID, "raid #%d removed after its notification was deleted", mirrorRow.RaidID)
	return m.registry.Delete(mirrorRow.RaidID)
}
