// Package mirror keeps every posted raid notification consistent with
// the raid record it represents. One raid may be mirrored into many
// channels; the raid record is the authority and mirrors are a view
// that is allowed to be briefly stale.
package mirror

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/azelphur/ekpogo/internal/platform"
	"github.com/azelphur/ekpogo/internal/raid"
	"github.com/azelphur/ekpogo/internal/search"
	"github.com/azelphur/ekpogo/internal/settings"
	"github.com/azelphur/ekpogo/internal/storage"
)

// Sync publishes, refreshes and retracts raid mirrors
type Sync struct {
	registry    *raid.Registry
	resolver    *settings.Resolver
	messenger   platform.Messenger
	defaultZone *time.Location
}

// NewSync creates the mirror synchronizer
func NewSync(registry *raid.Registry, resolver *settings.Resolver, messenger platform.Messenger, defaultZone *time.Location) *Sync {
	return &Sync{
		registry:    registry,
		resolver:    resolver,
		messenger:   messenger,
		defaultZone: defaultZone,
	}
}

// attendee pairs an attendance row with the resolved member, so each
// channel can decorate the name under its own team emoji bindings
type attendee struct {
	member *platform.Member
	userID string
	extra  int
}

// core is the channel-independent part of a raid snapshot
type core struct {
	raid      *storage.Raid
	gym       *storage.Gym
	pokemon   *storage.Pokemon
	attendees []attendee
}

// loadCore fetches the raid facts shared by every mirror
func (s *Sync) loadCore(ctx context.Context, guildID string, raidID int64) (*core, error) {
	r, err := s.registry.Get(raidID)
	if err != nil {
		return nil, err
	}
	gym, err := s.registry.Gym(r.GymID)
	if err != nil {
		return nil, err
	}
	var pokemon *storage.Pokemon
	if r.PokemonID != nil {
		pokemon, err = s.registry.Pokemon(*r.PokemonID)
		if err != nil {
			return nil, err
		}
	}
	attendance, err := s.registry.Attendance(raidID)
	if err != nil {
		return nil, err
	}

	attendees := make([]attendee, 0, len(attendance))
	for _, a := range attendance {
		member, err := s.messenger.Member(ctx, guildID, a.UserID)
		if err != nil {
			// A departed member is still counted, just shown by ID
			member = &platform.Member{ID: a.UserID, DisplayName: a.UserID}
		}
		attendees = append(attendees, attendee{member: member, userID: a.UserID, extra: a.Extra})
	}

	return &core{raid: r, gym: gym, pokemon: pokemon, attendees: attendees}, nil
}

// snapshotFor specializes the core snapshot to one channel's settings
func (s *Sync) snapshotFor(c *core, scope settings.Scope) Snapshot {
	roleMystic := s.resolver.Get(scope, "role_mystic", "")
	roleValor := s.resolver.Get(scope, "role_valor", "")
	roleInstinct := s.resolver.Get(scope, "role_instinct", "")

	going := make([]Goer, 0, len(c.attendees))
	for _, a := range c.attendees {
		teamEmoji := ""
		for _, roleName := range a.member.RoleNames {
			switch {
			case roleMystic != "" && roleName == roleMystic:
				teamEmoji = s.resolver.Get(scope, "emoji_mystic", "")
			case roleValor != "" && roleName == roleValor:
				teamEmoji = s.resolver.Get(scope, "emoji_valor", "")
			case roleInstinct != "" && roleName == roleInstinct:
				teamEmoji = s.resolver.Get(scope, "emoji_instinct", "")
			}
		}
		going = append(going, Goer{
			DisplayName: a.member.DisplayName,
			TeamEmoji:   teamEmoji,
			Extra:       a.extra,
		})
	}

	return Snapshot{Raid: c.raid, Gym: c.gym, Pokemon: c.pokemon, Going: going}
}

// viewFor builds the per-channel presentation: display zone, the
// going symbol, and the gym subscription mention when the channel
// shows them
func (s *Sync) viewFor(ctx context.Context, c *core, scope settings.Scope, mention bool) ChannelView {
	view := ChannelView{
		Zone:       s.resolver.GetTimezone(scope, s.defaultZone),
		GoingEmoji: s.resolver.Get(scope, "emoji_going", settings.DefaultEmojiGoing),
		Now:        time.Now(),
	}
	if mention && s.resolver.GetBool(scope, "show_subscriptions", true) && s.resolver.GetBool(scope, "enable_subscriptions", true) {
		if roleID, err := s.messenger.RoleByName(ctx, scope.GuildID, c.gym.Title); err == nil {
			view.RoleMention = s.messenger.RoleMention(roleID)
		}
	}
	return view
}

// Publish posts one notification per target channel, registers each as
// a mirror and seeds its reaction symbols. Fan-out is best effort: one
// channel failing does not stop the others. Returns the message ID per
// channel that succeeded.
func (s *Sync) Publish(ctx context.Context, guildID string, raidID int64, channelIDs []string, mention bool) (map[string]string, error) {
	c, err := s.loadCore(ctx, guildID, raidID)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	posted := make(map[string]string)
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	for _, channelID := range channelIDs {
		channelID := channelID
		g.Go(func() error {
			scope := settings.Scope{GuildID: guildID, ChannelID: channelID}
			embed, content := Render(s.snapshotFor(c, scope), s.viewFor(gctx, c, scope, mention))

			messageID, err := s.messenger.SendEmbed(gctx, channelID, embed, content)
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				slog.Warn("Failed to publish mirror", "raid", raidID, "channel", channelID, "error", err)
				return nil
			}
			if _, err := s.registry.AddMirror(raidID, guildID, channelID, messageID); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return nil
			}
			if err := s.AddReactions(gctx, scope, channelID, messageID); err != nil {
				slog.Warn("Failed to seed reactions", "raid", raidID, "channel", channelID, "error", err)
			}

			mu.Lock()
			posted[channelID] = messageID
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return posted, errors.Join(failures...)
}

// RefreshAll re-renders every registered mirror of a raid in place. A
// mirror whose backing message is confirmed gone is deregistered, not
// re-created. One failing channel never blocks the others.
func (s *Sync) RefreshAll(ctx context.Context, raidID int64) error {
	mirrors, err := s.registry.Mirrors(raidID)
	if err != nil {
		return err
	}
	if len(mirrors) == 0 {
		return nil
	}

	cores := make(map[string]*core)
	for _, m := range mirrors {
		if _, ok := cores[m.GuildID]; ok {
			continue
		}
		c, err := s.loadCore(ctx, m.GuildID, raidID)
		if err != nil {
			return err
		}
		cores[m.GuildID] = c
	}

	var mu sync.Mutex
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range mirrors {
		m := m
		g.Go(func() error {
			c := cores[m.GuildID]
			scope := settings.Scope{GuildID: m.GuildID, ChannelID: m.ChannelID}
			embed, _ := Render(s.snapshotFor(c, scope), s.viewFor(gctx, c, scope, false))

			err := s.messenger.EditEmbed(gctx, m.ChannelID, m.MessageID, embed)
			if errors.Is(err, platform.ErrNotFound) {
				slog.Info("Deregistering stale mirror", "raid", raidID, "channel", m.ChannelID)
				if err := s.registry.RemoveMirror(m.ChannelID, m.MessageID); err != nil && !errors.Is(err, raid.ErrNotFound) {
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
				}
				return nil
			}
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				slog.Warn("Failed to refresh mirror", "raid", raidID, "channel", m.ChannelID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(failures...)
}

// Retract deletes a raid's mirrors in one channel along with their
// messages
func (s *Sync) Retract(ctx context.Context, raidID int64, channelID string) error {
	mirrors, err := s.registry.Mirrors(raidID)
	if err != nil {
		return err
	}

	var failures []error
	for _, m := range mirrors {
		if m.ChannelID != channelID {
			continue
		}
		if err := s.registry.RemoveMirror(m.ChannelID, m.MessageID); err != nil && !errors.Is(err, raid.ErrNotFound) {
			failures = append(failures, err)
			continue
		}
		if err := s.messenger.DeleteMessage(ctx, m.ChannelID, m.MessageID); err != nil && !errors.Is(err, platform.ErrNotFound) {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// AddReactions seeds the six bound reaction symbols on a message in
// the order users expect them
func (s *Sync) AddReactions(ctx context.Context, scope settings.Scope, channelID, messageID string) error {
	for _, emoji := range s.resolver.GetEmoji(scope).All() {
		if err := s.messenger.AddReaction(ctx, channelID, messageID, emoji); err != nil {
			return err
		}
	}
	return nil
}

// Targets selects the channels a new raid should be mirrored into:
// channels configured to mirror unconditionally, plus mirror_nearby
// channels whose configured location is within their configured radius
// of the gym. The origin channel is excluded.
func (s *Sync) Targets(guildID, originChannelID string, gym *storage.Gym) ([]string, error) {
	channels, err := s.resolver.MirrorChannels(guildID, "mirror")
	if err != nil {
		return nil, err
	}

	nearby, err := s.resolver.MirrorChannels(guildID, "mirror_nearby")
	if err != nil {
		return nil, err
	}
	for _, channelID := range nearby {
		scope := settings.Scope{GuildID: guildID, ChannelID: channelID}
		lat, lon, ok := s.resolver.GetLocation(scope)
		if !ok {
			continue
		}
		if search.DistanceKm(lat, lon, gym.Latitude, gym.Longitude) <= s.resolver.GetScaleKm(scope) {
			channels = append(channels, channelID)
		}
	}

	seen := make(map[string]struct{}, len(channels))
	targets := make([]string, 0, len(channels))
	for _, channelID := range channels {
		if channelID == originChannelID {
			continue
		}
		if _, ok := seen[channelID]; ok {
			continue
		}
		seen[channelID] = struct{}{}
		targets = append(targets, channelID)
	}
	return targets, nil
}
