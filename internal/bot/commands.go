package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/azelphur/ekpogo/internal/mirror"
	"github.com/azelphur/ekpogo/internal/raid"
	"github.com/azelphur/ekpogo/internal/search"
	"github.com/azelphur/ekpogo/internal/settings"
	"github.com/azelphur/ekpogo/internal/storage"
	"github.com/azelphur/ekpogo/internal/timeparse"
)

// Slash command definitions
func (b *Bot) getCommandDefinitions() []*discordgo.ApplicationCommand {
	timeOption := func(desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "time",
			Description: desc,
			Required:    true,
		}
	}
	raidIDOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "raid_id",
		Description: "The raid ID shown in the notification footer",
		Required:    true,
	}
	gymOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "gym",
		Description: "Gym name (fuzzy matched)",
		Required:    true,
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "raid",
			Description: "Create a raid on a pokemon",
			Options: []*discordgo.ApplicationCommandOption{
				timeOption("Start time (HH:MM, HHMM, HH.MM, Xm or \"YYYY-MM-DD HH:MM\")"),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "pokemon",
					Description: "Pokemon name (fuzzy matched)",
					Required:    true,
				},
				gymOption,
			},
		},
		{
			Name:        "egg",
			Description: "Create a raid on an unhatched egg",
			Options: []*discordgo.ApplicationCommandOption{
				timeOption("Hatch time (HH:MM, HHMM, HH.MM, Xm or \"YYYY-MM-DD HH:MM\")"),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "level",
					Description: "Egg level",
					Required:    true,
				},
				gymOption,
			},
		},
		{
			Name:        "raidstart",
			Description: "Alter the start time on a raid",
			Options: []*discordgo.ApplicationCommandOption{
				raidIDOption,
				timeOption("New start time"),
			},
		},
		{
			Name:        "raidend",
			Description: "Alter the end time on a raid",
			Options: []*discordgo.ApplicationCommandOption{
				raidIDOption,
				timeOption("New end time"),
			},
		},
		{
			Name:        "raidpokemon",
			Description: "Set the pokemon that a raid is on",
			Options: []*discordgo.ApplicationCommandOption{
				raidIDOption,
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "pokemon",
					Description: "Pokemon name (fuzzy matched)",
					Required:    true,
				},
			},
		},
		{
			Name:        "raidgym",
			Description: "Change the gym associated with a raid",
			Options: []*discordgo.ApplicationCommandOption{
				raidIDOption,
				gymOption,
			},
		},
		{
			Name:        "raidmirror",
			Description: "Mirror a raid notification to this channel",
			Options:     []*discordgo.ApplicationCommandOption{raidIDOption},
		},
		{
			Name:        "raidhide",
			Description: "Hide a raid notification from a channel",
			Options: []*discordgo.ApplicationCommandOption{
				raidIDOption,
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel to hide from (defaults to this one)",
					Required:    false,
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildText,
					},
				},
			},
		},
		{
			Name:        "raidgoing",
			Description: "Mark a user as going to a raid",
			Options: []*discordgo.ApplicationCommandOption{
				raidIDOption,
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "member",
					Description: "The member who is going",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "extra",
					Description: "Extra people they bring",
					Required:    false,
				},
			},
		},
		{
			Name:        "raidin",
			Description: "Tell everyone going to a raid to go in",
			Options:     []*discordgo.ApplicationCommandOption{raidIDOption},
		},
		{
			Name:        "raidstats",
			Description: "Statistics about raids on a gym",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "since",
					Description: "Count raids since this date (YYYY-MM-DD)",
					Required:    true,
				},
				gymOption,
			},
		},
		{
			Name:        "raidsubscribe",
			Description: "Subscribe to raid notifications on a gym",
			Options:     []*discordgo.ApplicationCommandOption{gymOption},
		},
		{
			Name:        "raidunsubscribe",
			Description: "Unsubscribe from raid notifications on a gym",
			Options:     []*discordgo.ApplicationCommandOption{gymOption},
		},
		{
			Name:        "raidconfig",
			Description: "Show or set a raid setting at server or channel scope",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "scope",
					Description: "Where the setting applies",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "server", Value: "server"},
						{Name: "channel", Value: "channel"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "key",
					Description: "Setting name (omit value to show the current one)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "value",
					Description: "New value",
					Required:    false,
				},
			},
		},
		{
			Name:        "gym",
			Description: "Look up a gym",
			Options:     []*discordgo.ApplicationCommandOption{gymOption},
		},
		{
			Name:        "gymadd",
			Description: "Add a gym to the database",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "title",
					Description: "Gym name",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "latitude",
					Description: "Latitude",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "longitude",
					Description: "Longitude",
					Required:    true,
				},
			},
		},
		{
			Name:        "gymrm",
			Description: "Delete a gym from the database",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "gym_id",
					Description: "Gym ID shown in the lookup footer",
					Required:    true,
				},
			},
		},
	}
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := b.getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			b.session.State.User.ID,
			"", // Empty string = global command
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// removeCommands removes all registered slash commands
func (b *Bot) removeCommands() {
	for _, cmd := range b.commands {
		err := b.session.ApplicationCommandDelete(b.session.State.User.ID, "", cmd.ID)
		if err != nil {
			slog.Error("Failed to remove command", "name", cmd.Name, "error", err)
		}
	}
}

// Helpers

func optionMap(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

func (b *Bot) scopeOf(i *discordgo.InteractionCreate) settings.Scope {
	return settings.Scope{GuildID: i.GuildID, ChannelID: i.ChannelID}
}

// channelNear returns the channel's configured search origin, if any
func (b *Bot) channelNear(scope settings.Scope) (*search.LatLon, float64) {
	lat, lon, ok := b.resolver.GetLocation(scope)
	if !ok {
		return nil, 0
	}
	return &search.LatLon{Lat: lat, Lon: lon}, b.resolver.GetScaleKm(scope)
}

func isAdmin(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

func respondWithMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	})
}

func respondWithEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}

func deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func (b *Bot) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
}

// Raid creation

// handleRaid handles the /raid command
func (b *Bot) handleRaid(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	b.startRaid(s, i, opts["time"].StringValue(), opts["pokemon"].StringValue(), nil, opts["gym"].StringValue())
}

// handleEgg handles the /egg command
func (b *Bot) handleEgg(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	level := int(opts["level"].IntValue())
	b.startRaid(s, i, opts["time"].StringValue(), "", &level, opts["gym"].StringValue())
}

// startRaid is the shared creation path for /raid and /egg: resolve
// the gym and pokemon, parse the time, create the record and publish
// the notification plus its configured mirrors
func (b *Bot) startRaid(s *discordgo.Session, i *discordgo.InteractionCreate, timeText, pokemonName string, level *int, gymTitle string) {
	// Respond immediately to avoid timeout
	deferResponse(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scope := b.scopeOf(i)
	gym := b.lookupGym(ctx, s, i, scope, gymTitle, true)
	if gym == nil {
		return
	}

	var pokemonID *int64
	if pokemonName != "" {
		pokemon, err := b.finder.FindPokemon(ctx, pokemonName)
		if err != nil || pokemon == nil {
			b.editResponse(s, i, "Pokemon not found.")
			return
		}
		pokemonID = &pokemon.ID
	}

	zone := b.resolver.GetTimezone(scope, b.defaultZone)
	start, err := timeparse.Parse(timeText, time.Now(), zone)
	if err != nil {
		b.editResponse(s, i, timeparse.HelpString)
		return
	}

	created, err := b.registry.Create(gym.ID, pokemonID, level, start, time.Time{})
	if err != nil {
		if existing, ok := raid.IsDuplicate(err); ok {
			// Offer the open raid instead of creating a duplicate
			b.editResponse(s, i, fmt.Sprintf("There is already a raid on %s: raid #%d. Use `/raidmirror raid_id:%d` to show it here.", gym.Title, existing.ID, existing.ID))
			return
		}
		slog.Error("Failed to create raid", "gym", gym.ID, "error", err)
		b.editResponse(s, i, "Failed to create raid. Please try again.")
		return
	}

	targets, err := b.syncer.Targets(i.GuildID, i.ChannelID, gym)
	if err != nil {
		slog.Warn("Failed to resolve mirror targets", "raid", created.ID, "error", err)
	}

	// The origin channel carries the subscription mention; mirrors
	// are plain.
	if _, err := b.syncer.Publish(ctx, i.GuildID, created.ID, []string{i.ChannelID}, true); err != nil {
		slog.Warn("Failed to publish raid notification", "raid", created.ID, "error", err)
	}
	if len(targets) > 0 {
		if _, err := b.syncer.Publish(ctx, i.GuildID, created.ID, targets, false); err != nil {
			slog.Warn("Failed to publish raid mirrors", "raid", created.ID, "error", err)
		}
	}

	b.audit.Logf(ctx, i.GuildID, "<@%s> created raid #%d on %s", i.Member.User.ID, created.ID, gym.Title)
	b.editResponse(s, i, fmt.Sprintf("Raid #%d created on %s.", created.ID, gym.Title))
}

// lookupGym resolves a gym by fuzzy title for a command, reporting the
// miss to the user. The deferred flag selects which response path to
// use.
func (b *Bot) lookupGym(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, scope settings.Scope, title string, deferred bool) *storage.Gym {
	near, scaleKm := b.channelNear(scope)
	gym, err := b.finder.FindGym(ctx, title, near, scaleKm)
	if err != nil {
		slog.Error("Gym lookup failed", "title", title, "error", err)
	}
	if gym == nil {
		if deferred {
			b.editResponse(s, i, "Gym not found.")
		} else {
			respondWithMessage(s, i, "Gym not found.")
		}
		return nil
	}
	return gym
}

// Raid editing

// handleRaidStart handles the /raidstart command
func (b *Bot) handleRaidStart(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.editRaidTime(s, i, b.registry.SetStart)
}

// handleRaidEnd handles the /raidend command
func (b *Bot) handleRaidEnd(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.editRaidTime(s, i, b.registry.SetEnd)
}

func (b *Bot) editRaidTime(s *discordgo.Session, i *discordgo.InteractionCreate, apply func(int64, time.Time) error) {
	opts := optionMap(i)
	raidID := opts["raid_id"].IntValue()
	scope := b.scopeOf(i)

	zone := b.resolver.GetTimezone(scope, b.defaultZone)
	t, err := timeparse.Parse(opts["time"].StringValue(), time.Now(), zone)
	if err != nil {
		respondWithMessage(s, i, timeparse.HelpString)
		return
	}

	unlock := b.registry.LockRaid(raidID)
	defer unlock()

	if err := apply(raidID, t); err != nil {
		b.respondRegistryError(s, i, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	respondWithMessage(s, i, fmt.Sprintf("Raid #%d updated.", raidID))
	b.audit.Logf(ctx, i.GuildID, "<@%s> changed the time on raid #%d", i.Member.User.ID, raidID)
	if err := b.syncer.RefreshAll(ctx, raidID); err != nil {
		slog.Warn("Failed to refresh mirrors", "raid", raidID, "error", err)
	}
}

// handleRaidPokemon handles the /raidpokemon command
func (b *Bot) handleRaidPokemon(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	raidID := opts["raid_id"].IntValue()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pokemon, err := b.finder.FindPokemon(ctx, opts["pokemon"].StringValue())
	if err != nil || pokemon == nil {
		respondWithMessage(s, i, "Pokemon not found.")
		return
	}

	unlock := b.registry.LockRaid(raidID)
	defer unlock()

	if err := b.registry.SetPokemon(raidID, pokemon.ID); err != nil {
		b.respondRegistryError(s, i, err)
		return
	}

	respondWithMessage(s, i, fmt.Sprintf("Raid #%d is now a %s raid.", raidID, pokemon.Name))
	if err := b.syncer.RefreshAll(ctx, raidID); err != nil {
		slog.Warn("Failed to refresh mirrors", "raid", raidID, "error", err)
	}
}

// handleRaidGym handles the /raidgym command
func (b *Bot) handleRaidGym(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	raidID := opts["raid_id"].IntValue()
	scope := b.scopeOf(i)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gym := b.lookupGym(ctx, s, i, scope, opts["gym"].StringValue(), false)
	if gym == nil {
		return
	}

	unlock := b.registry.LockRaid(raidID)
	defer unlock()

	if err := b.registry.SetGym(raidID, gym.ID); err != nil {
		b.respondRegistryError(s, i, err)
		return
	}

	respondWithMessage(s, i, fmt.Sprintf("Raid #%d moved to %s.", raidID, gym.Title))
	if err := b.syncer.RefreshAll(ctx, raidID); err != nil {
		slog.Warn("Failed to refresh mirrors", "raid", raidID, "error", err)
	}
}

// Mirrors

// handleRaidMirror handles the /raidmirror command
func (b *Bot) handleRaidMirror(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	raidID := opts["raid_id"].IntValue()

	if _, err := b.registry.Get(raidID); err != nil {
		b.respondRegistryError(s, i, err)
		return
	}

	deferResponse(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	posted, err := b.syncer.Publish(ctx, i.GuildID, raidID, []string{i.ChannelID}, false)
	if err != nil || len(posted) == 0 {
		slog.Error("Failed to mirror raid", "raid", raidID, "error", err)
		b.editResponse(s, i, "Failed to mirror the raid here.")
		return
	}

	b.editResponse(s, i, fmt.Sprintf("Raid #%d mirrored here.", raidID))
}

// handleRaidHide handles the /raidhide command
func (b *Bot) handleRaidHide(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	raidID := opts["raid_id"].IntValue()

	channelID := i.ChannelID
	if opt, ok := opts["channel"]; ok {
		channelID = opt.ChannelValue(s).ID
	}

	if _, err := b.registry.Get(raidID); err != nil {
		b.respondRegistryError(s, i, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.syncer.Retract(ctx, raidID, channelID); err != nil {
		slog.Warn("Failed to retract mirror", "raid", raidID, "channel", channelID, "error", err)
	}
	respondWithMessage(s, i, fmt.Sprintf("Raid #%d hidden from <#%s>.", raidID, channelID))
}

// Attendance

// handleRaidGoing handles the /raidgoing command
func (b *Bot) handleRaidGoing(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	raidID := opts["raid_id"].IntValue()
	member := opts["member"].UserValue(s)

	extra := 0
	if opt, ok := opts["extra"]; ok {
		extra = int(opt.IntValue())
	}

	unlock := b.registry.LockRaid(raidID)
	defer unlock()

	if err := b.registry.SetExtra(raidID, member.ID, extra); err != nil {
		b.respondRegistryError(s, i, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	respondWithMessage(s, i, fmt.Sprintf("Marked <@%s> as going to raid #%d.", member.ID, raidID))
	b.audit.Logf(ctx, i.GuildID, "<@%s> marked <@%s> as going to raid #%d", i.Member.User.ID, member.ID, raidID)
	if err := b.syncer.RefreshAll(ctx, raidID); err != nil {
		slog.Warn("Failed to refresh mirrors", "raid", raidID, "error", err)
	}
}

// handleRaidIn handles the /raidin command
func (b *Bot) handleRaidIn(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	raidID := opts["raid_id"].IntValue()

	attendance, err := b.registry.Attendance(raidID)
	if err != nil {
		b.respondRegistryError(s, i, err)
		return
	}
	if len(attendance) == 0 {
		respondWithMessage(s, i, fmt.Sprintf("Nobody is marked as going to raid #%d.", raidID))
		return
	}

	mentions := make([]string, 0, len(attendance))
	for _, a := range attendance {
		mentions = append(mentions, "<@"+a.UserID+">")
	}
	respondWithMessage(s, i, "Go in! "+strings.Join(mentions, ", "))
}

// handleRaidStats handles the /raidstats command
func (b *Bot) handleRaidStats(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	scope := b.scopeOf(i)

	since, err := time.Parse("2006-01-02", opts["since"].StringValue())
	if err != nil {
		respondWithMessage(s, i, "Invalid since given, must be in YYYY-MM-DD format.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gym := b.lookupGym(ctx, s, i, scope, opts["gym"].StringValue(), false)
	if gym == nil {
		return
	}

	stats, err := b.registry.GymStats(gym.ID, since)
	if err != nil {
		slog.Error("Failed to compute gym stats", "gym", gym.ID, "error", err)
		respondWithMessage(s, i, "Failed to compute statistics.")
		return
	}

	respondWithMessage(s, i, fmt.Sprintf(
		"Since %s, there have been %d raids, %d visits and %d - %d unique visits on %s",
		since.Format("2006-01-02"), stats.Raids, stats.Visits,
		stats.Individuals, stats.Individuals+stats.Extras, gym.Title,
	))
}

// Subscriptions

// handleRaidSubscribe handles the /raidsubscribe command
func (b *Bot) handleRaidSubscribe(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.changeGymSubscription(s, i, true)
}

// handleRaidUnsubscribe handles the /raidunsubscribe command
func (b *Bot) handleRaidUnsubscribe(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.changeGymSubscription(s, i, false)
}

func (b *Bot) changeGymSubscription(s *discordgo.Session, i *discordgo.InteractionCreate, subscribe bool) {
	scope := b.scopeOf(i)
	if !b.resolver.GetBool(scope, "enable_subscriptions", true) {
		respondWithMessage(s, i, "This server has raid subscriptions disabled")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if ok, err := b.messenger.BotCanManageRoles(ctx, i.GuildID); err != nil || !ok {
		respondWithMessage(s, i, "I do not have permission to manage roles on this server")
		return
	}

	gym := b.lookupGym(ctx, s, i, scope, optionMap(i)["gym"].StringValue(), false)
	if gym == nil {
		return
	}

	userID := i.Member.User.ID
	if subscribe {
		if err := b.subs.Subscribe(ctx, i.GuildID, userID, gym.Title); err != nil {
			slog.Error("Failed to subscribe", "gym", gym.Title, "error", err)
			respondWithMessage(s, i, "Failed to subscribe. Please try again.")
			return
		}
		respondWithMessage(s, i, fmt.Sprintf("I've subscribed you to notifications for %s", gym.Title))
		return
	}

	err := b.subs.Unsubscribe(ctx, i.GuildID, userID, gym.Title)
	if err != nil {
		respondWithMessage(s, i, "You are already unsubscribed from this gym")
		return
	}
	respondWithMessage(s, i, fmt.Sprintf("I've unsubscribed you from notifications for %s", gym.Title))
}

// Configuration

// handleRaidConfig handles the /raidconfig command
func (b *Bot) handleRaidConfig(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !isAdmin(i) {
		respondWithMessage(s, i, "You need the Administrator permission to change raid settings.")
		return
	}

	opts := optionMap(i)
	scope := settings.Scope{GuildID: i.GuildID}
	if opts["scope"].StringValue() == "channel" {
		scope.ChannelID = i.ChannelID
	}

	keyOpt, ok := opts["key"]
	if !ok {
		respondWithMessage(s, i, "Valid settings: "+strings.Join(settings.Keys, ", "))
		return
	}
	key := keyOpt.StringValue()

	valueOpt, ok := opts["value"]
	if !ok {
		value, set := b.resolver.GetScoped(scope, key)
		if !set {
			respondWithMessage(s, i, fmt.Sprintf("%s is not set at this scope", key))
			return
		}
		respondWithMessage(s, i, fmt.Sprintf("%s = %s", key, value))
		return
	}

	if err := b.resolver.Set(scope, key, valueOpt.StringValue()); err != nil {
		if errors.Is(err, settings.ErrInvalidSetting) {
			respondWithMessage(s, i, "Invalid setting")
			return
		}
		slog.Error("Failed to save setting", "key", key, "error", err)
		respondWithMessage(s, i, "Failed to save setting. Please try again.")
		return
	}

	respondWithMessage(s, i, fmt.Sprintf("Ok, %s = %s", key, valueOpt.StringValue()))
}

// Gyms

// handleGym handles the /gym command
func (b *Bot) handleGym(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gym := b.lookupGym(ctx, s, i, b.scopeOf(i), optionMap(i)["gym"].StringValue(), false)
	if gym == nil {
		return
	}
	respondWithEmbed(s, i, mirror.RenderGym(gym))
}

// handleGymAdd handles the /gymadd command
func (b *Bot) handleGymAdd(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !isAdmin(i) {
		respondWithMessage(s, i, "You need the Administrator permission to manage gyms.")
		return
	}

	opts := optionMap(i)
	gym := &storage.Gym{
		Title:     opts["title"].StringValue(),
		Latitude:  opts["latitude"].FloatValue(),
		Longitude: opts["longitude"].FloatValue(),
	}

	if err := b.repo.CreateGym(gym); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			respondWithMessage(s, i, "That gym already exists.")
			return
		}
		slog.Error("Failed to add gym", "title", gym.Title, "error", err)
		respondWithMessage(s, i, "Failed to add gym. Please try again.")
		return
	}

	respondWithEmbed(s, i, mirror.RenderGym(gym))
}

// handleGymRemove handles the /gymrm command
func (b *Bot) handleGymRemove(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !isAdmin(i) {
		respondWithMessage(s, i, "You need the Administrator permission to manage gyms.")
		return
	}

	gymID := optionMap(i)["gym_id"].IntValue()
	if err := b.repo.DeleteGym(gymID); err != nil {
		slog.Error("Failed to remove gym", "gym", gymID, "error", err)
		respondWithMessage(s, i, "Failed to remove gym. Please try again.")
		return
	}

	respondWithMessage(s, i, fmt.Sprintf("Gym %d removed.", gymID))
}

// respondRegistryError reports a registry failure to the invoking user
func (b *Bot) respondRegistryError(s *discordgo.Session, i *discordgo.InteractionCreate, err error) {
	switch {
	case errors.Is(err, raid.ErrNotFound):
		respondWithMessage(s, i, "Raid not found")
	case errors.Is(err, raid.ErrInvalidWindow):
		respondWithMessage(s, i, "A raid cannot end before it starts.")
	default:
		slog.Error("Registry operation failed", "error", err)
		respondWithMessage(s, i, "Something went wrong. Please try again.")
	}
}
