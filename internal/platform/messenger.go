// Package platform is the boundary to the chat platform. Core
// packages depend on the Messenger interface; the Discord adapter is
// the production implementation.
package platform

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
)

// ErrNotFound is returned when a channel, message, member or role no
// longer exists on the platform. Callers treat it as a normal outcome
// (deregister the stale reference), not a failure.
var ErrNotFound = errors.New("platform: not found")

// Member is a guild member as needed for rendering and permission
// checks
type Member struct {
	ID          string
	DisplayName string
	RoleNames   []string
}

// Messenger covers every remote platform operation the core needs.
// All calls are fallible remote calls that may return ErrNotFound.
type Messenger interface {
	// Messages
	SendMessage(ctx context.Context, channelID, content string) (messageID string, err error)
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed, content string) (messageID string, err error)
	EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	// Reactions
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	ClearReactions(ctx context.Context, channelID, messageID string) error
	MessageReactions(ctx context.Context, channelID, messageID string) ([]string, error)

	// Members and permissions
	Member(ctx context.Context, guildID, userID string) (*Member, error)
	HasModerationCapability(ctx context.Context, channelID, userID string) (bool, error)
	BotCanManageRoles(ctx context.Context, guildID string) (bool, error)

	// Roles (named recipient sets)
	RoleByName(ctx context.Context, guildID, name string) (roleID string, err error)
	EnsureRole(ctx context.Context, guildID, name string) (roleID string, err error)
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
	RevokeRole(ctx context.Context, guildID, userID, roleID string) error
	DeleteRole(ctx context.Context, guildID, roleID string) error
	DeleteRoleIfEmpty(ctx context.Context, guildID, roleID string) (deleted bool, err error)
	RoleMention(roleID string) string
}
