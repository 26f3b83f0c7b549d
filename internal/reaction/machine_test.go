package reaction

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azelphur/ekpogo/internal/audit"
	"github.com/azelphur/ekpogo/internal/mirror"
	"github.com/azelphur/ekpogo/internal/platform"
	"github.com/azelphur/ekpogo/internal/raid"
	"github.com/azelphur/ekpogo/internal/settings"
	"github.com/azelphur/ekpogo/internal/storage"
	"github.com/azelphur/ekpogo/internal/subscription"
)

// fakeMessenger is an in-memory platform for exercising the machine
// without Discord
type fakeMessenger struct {
	mu sync.Mutex

	nextID     int
	messages   map[string]string   // channel/message -> content marker
	reactions  map[string][]string // channel/message -> emoji
	deleted    []string
	cleared    []string
	edits      int
	moderators map[string]bool

	roles       map[string]string              // name -> roleID
	memberships map[string]map[string]struct{} // roleID -> user set
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		messages:    make(map[string]string),
		reactions:   make(map[string][]string),
		moderators:  make(map[string]bool),
		roles:       make(map[string]string),
		memberships: make(map[string]map[string]struct{}),
	}
}

func key(channelID, messageID string) string { return channelID + "/" + messageID }

func (f *fakeMessenger) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	return f.SendEmbed(ctx, channelID, nil, content)
}

func (f *fakeMessenger) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	messageID := fmt.Sprintf("msg%d", f.nextID)
	f.messages[key(channelID, messageID)] = content
	return messageID, nil
}

func (f *fakeMessenger) EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[key(channelID, messageID)]; !ok {
		return platform.ErrNotFound
	}
	f.edits++
	return nil
}

func (f *fakeMessenger) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(channelID, messageID)
	if _, ok := f.messages[k]; !ok {
		return platform.ErrNotFound
	}
	delete(f.messages, k)
	f.deleted = append(f.deleted, k)
	return nil
}

func (f *fakeMessenger) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(channelID, messageID)
	f.reactions[k] = append(f.reactions[k], emoji)
	return nil
}

func (f *fakeMessenger) ClearReactions(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(channelID, messageID)
	f.reactions[k] = nil
	f.cleared = append(f.cleared, k)
	return nil
}

func (f *fakeMessenger) MessageReactions(ctx context.Context, channelID, messageID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reactions[key(channelID, messageID)]...), nil
}

func (f *fakeMessenger) Member(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	return &platform.Member{ID: userID, DisplayName: "name-" + userID}, nil
}

func (f *fakeMessenger) HasModerationCapability(ctx context.Context, channelID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.moderators[userID], nil
}

func (f *fakeMessenger) BotCanManageRoles(ctx context.Context, guildID string) (bool, error) {
	return true, nil
}

func (f *fakeMessenger) RoleByName(ctx context.Context, guildID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roleID, ok := f.roles[name]
	if !ok {
		return "", platform.ErrNotFound
	}
	return roleID, nil
}

func (f *fakeMessenger) EnsureRole(ctx context.Context, guildID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if roleID, ok := f.roles[name]; ok {
		return roleID, nil
	}
	roleID := "role-" + name
	f.roles[name] = roleID
	f.memberships[roleID] = make(map[string]struct{})
	return roleID, nil
}

func (f *fakeMessenger) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.memberships[roleID]
	if !ok {
		return platform.ErrNotFound
	}
	members[userID] = struct{}{}
	return nil
}

func (f *fakeMessenger) RevokeRole(ctx context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.memberships[roleID]
	if !ok {
		return platform.ErrNotFound
	}
	delete(members, userID)
	return nil
}

func (f *fakeMessenger) DeleteRole(ctx context.Context, guildID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, id := range f.roles {
		if id == roleID {
			delete(f.roles, name)
			delete(f.memberships, roleID)
			return nil
		}
	}
	return platform.ErrNotFound
}

func (f *fakeMessenger) DeleteRoleIfEmpty(ctx context.Context, guildID, roleID string) (bool, error) {
	f.mu.Lock()
	members, ok := f.memberships[roleID]
	empty := ok && len(members) == 0
	f.mu.Unlock()
	if !empty {
		return false, nil
	}
	return true, f.DeleteRole(ctx, guildID, roleID)
}

func (f *fakeMessenger) RoleMention(roleID string) string { return "<@&" + roleID + ">" }

func (f *fakeMessenger) hasRole(roleID, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.memberships[roleID][userID]
	return ok
}

// harness wires a machine over a real registry and the fake platform
type harness struct {
	machine   *Machine
	registry  *raid.Registry
	resolver  *settings.Resolver
	syncer    *mirror.Sync
	messenger *fakeMessenger
	raidID    int64
	messageID string
}

const (
	testGuild   = "guild1"
	testChannel = "chan1"
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	gym := &storage.Gym{Title: "Town Hall", Latitude: 51.5, Longitude: -0.12}
	require.NoError(t, repo.CreateGym(gym))
	level := 4
	require.NoError(t, repo.UpsertPokemon(&storage.Pokemon{ID: 248, Name: "Tyranitar", RaidLevel: &level}))

	messenger := newFakeMessenger()
	registry := raid.NewRegistry(repo)
	resolver := settings.NewResolver(repo)
	auditLog := audit.NewLogger(resolver, messenger)
	subs := subscription.NewManager(messenger)
	syncer := mirror.NewSync(registry, resolver, messenger, time.UTC)
	machine := NewMachine(registry, resolver, syncer, subs, auditLog, messenger)

	pokemonID := int64(248)
	r, err := registry.Create(gym.ID, &pokemonID, nil, time.Now().UTC().Truncate(time.Second).Add(30*time.Minute), time.Time{})
	require.NoError(t, err)

	posted, err := syncer.Publish(context.Background(), testGuild, r.ID, []string{testChannel}, false)
	require.NoError(t, err)
	require.Len(t, posted, 1)

	return &harness{
		machine:   machine,
		registry:  registry,
		resolver:  resolver,
		syncer:    syncer,
		messenger: messenger,
		raidID:    r.ID,
		messageID: posted[testChannel],
	}
}

func (h *harness) react(t *testing.T, userID, emoji string) {
	t.Helper()
	require.NoError(t, h.machine.HandleReaction(context.Background(), Event{
		GuildID:   testGuild,
		ChannelID: testChannel,
		MessageID: h.messageID,
		UserID:    userID,
		Emoji:     emoji,
	}))
}

func TestHandleReactionIgnoresUnknownMessage(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.machine.HandleReaction(context.Background(), Event{
		GuildID:   testGuild,
		ChannelID: testChannel,
		MessageID: "not-a-mirror",
		UserID:    "user1",
		Emoji:     settings.DefaultEmojiGoing,
	}))

	attendance, err := h.registry.Attendance(h.raidID)
	require.NoError(t, err)
	assert.Empty(t, attendance)
}

func TestGoingToggles(t *testing.T) {
	h := newHarness(t)
	group := subscription.RaidGroupName(h.raidID)

	h.react(t, "user1", settings.DefaultEmojiGoing)

	going, err := h.registry.IsGoing(h.raidID, "user1")
	require.NoError(t, err)
	assert.True(t, going)
	assert.True(t, h.messenger.hasRole("role-"+group, "user1"))

	// The same symbol again reverses it
	h.react(t, "user1", settings.DefaultEmojiGoing)

	going, err = h.registry.IsGoing(h.raidID, "user1")
	require.NoError(t, err)
	assert.False(t, going)
	assert.False(t, h.messenger.hasRole("role-"+group, "user1"))
}

func TestExtraAdjustment(t *testing.T) {
	h := newHarness(t)

	// Without an attendance row the adjusters are inert
	h.react(t, "user1", settings.DefaultEmojiPlus1)
	attendance, err := h.registry.Attendance(h.raidID)
	require.NoError(t, err)
	assert.Empty(t, attendance)

	h.react(t, "user1", settings.DefaultEmojiGoing)
	h.react(t, "user1", settings.DefaultEmojiPlus1)
	h.react(t, "user1", settings.DefaultEmojiPlus1)
	h.react(t, "user1", settings.DefaultEmojiMinus1)

	attendance, err = h.registry.Attendance(h.raidID)
	require.NoError(t, err)
	require.Len(t, attendance, 1)
	assert.Equal(t, 1, attendance[0].Extra)

	// The floor is zero
	h.react(t, "user1", settings.DefaultEmojiMinus1)
	h.react(t, "user1", settings.DefaultEmojiMinus1)
	attendance, err = h.registry.Attendance(h.raidID)
	require.NoError(t, err)
	assert.Equal(t, 0, attendance[0].Extra)
}

func TestTimeNudges(t *testing.T) {
	h := newHarness(t)

	before, err := h.registry.Get(h.raidID)
	require.NoError(t, err)

	h.react(t, "user1", settings.DefaultEmojiAddTime)
	after, err := h.registry.Get(h.raidID)
	require.NoError(t, err)
	assert.True(t, after.StartTime.Equal(before.StartTime.Add(settings.DefaultEditTimeMinutes*time.Minute)))

	h.react(t, "user1", settings.DefaultEmojiRemoveTime)
	after, err = h.registry.Get(h.raidID)
	require.NoError(t, err)
	assert.True(t, after.StartTime.Equal(before.StartTime))

	// A channel can rebind the increment
	require.NoError(t, h.resolver.Set(settings.Scope{GuildID: testGuild, ChannelID: testChannel}, "edit_time", "15"))
	h.react(t, "user1", settings.DefaultEmojiAddTime)
	after, err = h.registry.Get(h.raidID)
	require.NoError(t, err)
	assert.True(t, after.StartTime.Equal(before.StartTime.Add(15*time.Minute)))
}

func TestDoneRequiresModeration(t *testing.T) {
	h := newHarness(t)

	h.react(t, "pleb", settings.DefaultEmojiDone)
	r, err := h.registry.Get(h.raidID)
	require.NoError(t, err)
	assert.False(t, r.Done)

	h.messenger.moderators["mod"] = true
	h.react(t, "mod", settings.DefaultEmojiDone)
	r, err = h.registry.Get(h.raidID)
	require.NoError(t, err)
	assert.True(t, r.Done)

	// Toggling again reopens
	h.react(t, "mod", settings.DefaultEmojiDone)
	r, err = h.registry.Get(h.raidID)
	require.NoError(t, err)
	assert.False(t, r.Done)
}

func TestDoneRetractsDeleteOnDoneChannels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A second mirror in a channel that clears completed raids
	require.NoError(t, h.resolver.Set(settings.Scope{GuildID: testGuild, ChannelID: "chan2"}, "delete_on_done", "yes"))
	posted, err := h.syncer.Publish(ctx, testGuild, h.raidID, []string{"chan2"}, false)
	require.NoError(t, err)
	ephemeral := posted["chan2"]

	h.messenger.moderators["mod"] = true
	h.react(t, "mod", settings.DefaultEmojiDone)

	assert.Contains(t, h.messenger.deleted, key("chan2", ephemeral))
	_, err = h.registry.MirrorByMessage("chan2", ephemeral)
	assert.ErrorIs(t, err, raid.ErrNotFound)

	// The origin mirror survives
	m, err := h.registry.MirrorByMessage(testChannel, h.messageID)
	require.NoError(t, err)
	assert.Equal(t, h.raidID, m.RaidID)

	// Reopening republishes into the cleared channel
	h.react(t, "mod", settings.DefaultEmojiDone)
	mirrors, err := h.registry.Mirrors(h.raidID)
	require.NoError(t, err)
	channels := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		channels = append(channels, m.ChannelID)
	}
	assert.Contains(t, channels, "chan2")
}

func TestReactionRepair(t *testing.T) {
	h := newHarness(t)
	k := key(testChannel, h.messageID)

	// Publish seeded all six symbols; losing one is drift
	h.messenger.mu.Lock()
	h.messenger.reactions[k] = h.messenger.reactions[k][1:]
	h.messenger.mu.Unlock()

	h.react(t, "user1", settings.DefaultEmojiGoing)

	assert.Contains(t, h.messenger.cleared, k)
	reactions, err := h.messenger.MessageReactions(context.Background(), testChannel, h.messageID)
	require.NoError(t, err)
	assert.Len(t, reactions, 6)
}

func TestHandleMessageDeleteCascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	posted, err := h.syncer.Publish(ctx, testGuild, h.raidID, []string{"chan2"}, false)
	require.NoError(t, err)
	sibling := posted["chan2"]

	require.NoError(t, h.machine.HandleMessageDelete(ctx, testChannel, h.messageID))

	// The sibling mirror message is torn down and the raid is gone
	assert.Contains(t, h.messenger.deleted, key("chan2", sibling))
	_, err = h.registry.Get(h.raidID)
	assert.ErrorIs(t, err, raid.ErrNotFound)

	// A second delete event for the other mirror is a no-op
	require.NoError(t, h.machine.HandleMessageDelete(ctx, "chan2", sibling))
}
