package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/azelphur/ekpogo/internal/audit"
	"github.com/azelphur/ekpogo/internal/config"
	"github.com/azelphur/ekpogo/internal/mirror"
	"github.com/azelphur/ekpogo/internal/platform"
	"github.com/azelphur/ekpogo/internal/raid"
	"github.com/azelphur/ekpogo/internal/reaction"
	"github.com/azelphur/ekpogo/internal/scheduler"
	"github.com/azelphur/ekpogo/internal/search"
	"github.com/azelphur/ekpogo/internal/settings"
	"github.com/azelphur/ekpogo/internal/storage"
	"github.com/azelphur/ekpogo/internal/subscription"
)

// Bot represents the Discord bot instance
type Bot struct {
	config      *config.Config
	session     *discordgo.Session
	repo        *storage.Repository
	registry    *raid.Registry
	resolver    *settings.Resolver
	finder      search.Finder
	messenger   platform.Messenger
	syncer      *mirror.Sync
	machine     *reaction.Machine
	subs        *subscription.Manager
	audit       *audit.Logger
	sched       *scheduler.Scheduler
	defaultZone *time.Location
	commands    []*discordgo.ApplicationCommand

	// Inbound platform events are applied by one worker so concurrent
	// reactions on the same raid are processed in arrival order. The
	// events channel is never closed; quit signals the worker and any
	// in-flight enqueue to stand down.
	events chan func()
	quit   chan struct{}
	done   chan struct{}
}

// New creates a new Bot instance
func New(cfg *config.Config) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildMembers

	// Initialize storage
	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	defaultZone, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid default timezone: %w", err)
	}

	messenger := platform.NewDiscord(session)
	resolver := settings.NewResolver(repo)
	registry := raid.NewRegistry(repo)
	auditLog := audit.NewLogger(resolver, messenger)
	subs := subscription.NewManager(messenger)
	syncer := mirror.NewSync(registry, resolver, messenger, defaultZone)
	machine := reaction.NewMachine(registry, resolver, syncer, subs, auditLog, messenger)
	grace := time.Duration(cfg.ExpiryGraceMinutes) * time.Minute
	sched := scheduler.New(registry, machine, grace)

	b := &Bot{
		config:      cfg,
		session:     session,
		repo:        repo,
		registry:    registry,
		resolver:    resolver,
		finder:      search.NewStoreFinder(repo),
		messenger:   messenger,
		syncer:      syncer,
		machine:     machine,
		subs:        subs,
		audit:       auditLog,
		sched:       sched,
		defaultZone: defaultZone,
		events:      make(chan func(), 256),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	// Register command handlers
	b.registerHandlers()

	return b, nil
}

// Start opens the Discord connection and starts background tasks
func (b *Bot) Start(ctx context.Context) error {
	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	// Start the event worker and the expiry scheduler
	go b.runEvents(ctx)
	b.sched.Start(ctx)

	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	// Close the Discord session first so the gateway stops feeding the
	// handlers; events enqueued after quit closes are dropped
	var sessionErr error
	if b.session != nil {
		sessionErr = b.session.Close()
	}

	// Stop the scheduler; in-flight completions run to completion
	if b.sched != nil {
		b.sched.Stop()
	}

	// Stop the event worker
	close(b.quit)
	<-b.done

	// Remove registered commands (optional - comment out to keep commands)
	// b.removeCommands()

	// Close storage
	if b.repo != nil {
		b.repo.Close()
	}

	return sessionErr
}

// runEvents applies queued platform events one at a time
func (b *Bot) runEvents(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.quit:
			return
		case apply := <-b.events:
			apply()
		}
	}
}

// enqueue hands an event to the worker without blocking the gateway
func (b *Bot) enqueue(apply func()) {
	select {
	case <-b.quit:
	case b.events <- apply:
	default:
		slog.Warn("Event queue full, dropping event")
	}
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(b.handleReactionAdd)
	b.session.AddHandler(b.handleReactionRemove)
	b.session.AddHandler(b.handleMessageDelete)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
	})
}

// handleReactionAdd feeds reaction-add events into the state machine
func (b *Bot) handleReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if s.State.User != nil && r.UserID == s.State.User.ID {
		return
	}
	b.enqueue(func() {
		ev := reaction.Event{
			GuildID:   r.GuildID,
			ChannelID: r.ChannelID,
			MessageID: r.MessageID,
			UserID:    r.UserID,
			Emoji:     r.Emoji.APIName(),
		}
		if err := b.machine.HandleReaction(context.Background(), ev); err != nil {
			slog.Error("Failed to handle reaction", "channel", r.ChannelID, "error", err)
		}
	})
}

// handleReactionRemove feeds reaction-remove events into the state
// machine; removing a bound symbol toggles the same way adding does
func (b *Bot) handleReactionRemove(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
	if s.State.User != nil && r.UserID == s.State.User.ID {
		return
	}
	b.enqueue(func() {
		ev := reaction.Event{
			GuildID:   r.GuildID,
			ChannelID: r.ChannelID,
			MessageID: r.MessageID,
			UserID:    r.UserID,
			Emoji:     r.Emoji.APIName(),
		}
		if err := b.machine.HandleReaction(context.Background(), ev); err != nil {
			slog.Error("Failed to handle reaction", "channel", r.ChannelID, "error", err)
		}
	})
}

// handleMessageDelete cascades a platform-side mirror deletion
func (b *Bot) handleMessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	b.enqueue(func() {
		if err := b.machine.HandleMessageDelete(context.Background(), m.ChannelID, m.ID); err != nil {
			slog.Error("Failed to handle message delete", "channel", m.ChannelID, "error", err)
		}
	})
}

// handleInteraction processes slash command interactions
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	slog.Debug("Received command", "command", data.Name, "guild", i.GuildID)

	switch data.Name {
	case "raid":
		b.handleRaid(s, i)
	case "egg":
		b.handleEgg(s, i)
	case "raidstart":
		b.handleRaidStart(s, i)
	case "raidend":
		b.handleRaidEnd(s, i)
	case "raidpokemon":
		b.handleRaidPokemon(s, i)
	case "raidgym":
		b.handleRaidGym(s, i)
	case "raidmirror":
		b.handleRaidMirror(s, i)
	case "raidhide":
		b.handleRaidHide(s, i)
	case "raidgoing":
		b.handleRaidGoing(s, i)
	case "raidin":
		b.handleRaidIn(s, i)
	case "raidstats":
		b.handleRaidStats(s, i)
	case "raidsubscribe":
		b.handleRaidSubscribe(s, i)
	case "raidunsubscribe":
		b.handleRaidUnsubscribe(s, i)
	case "raidconfig":
		b.handleRaidConfig(s, i)
	case "gym":
		b.handleGym(s, i)
	case "gymadd":
		b.handleGymAdd(s, i)
	case "gymrm":
		b.handleGymRemove(s, i)
	default:
		slog.Warn("Unknown command", "command", data.Name)
	}
}
