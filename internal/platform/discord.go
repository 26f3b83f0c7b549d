package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	gocache "github.com/patrickmn/go-cache"
)

// Discord implements Messenger on a discordgo session. Member and
// role lookups go through bounded TTL caches, invalidated when the
// platform reports not-found.
type Discord struct {
	session *discordgo.Session

	members *gocache.Cache
	roles   *gocache.Cache
}

// NewDiscord creates the adapter around an open session
func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{
		session: session,
		members: gocache.New(5*time.Minute, 10*time.Minute),
		roles:   gocache.New(time.Minute, 5*time.Minute),
	}
}

// isNotFound reports whether err is the platform telling us the
// entity no longer exists
func isNotFound(err error) bool {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Message != nil {
			switch rest.Message.Code {
			case discordgo.ErrCodeUnknownChannel,
				discordgo.ErrCodeUnknownMessage,
				discordgo.ErrCodeUnknownMember,
				discordgo.ErrCodeUnknownUser,
				discordgo.ErrCodeUnknownRole:
				return true
			}
		}
		if rest.Response != nil && rest.Response.StatusCode == 404 {
			return true
		}
	}
	return false
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// SendMessage posts a plain text message and returns its ID
func (d *Discord) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	msg, err := d.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", wrap(err)
	}
	return msg.ID, nil
}

// SendEmbed posts an embed with optional mention content and returns
// the new message's ID
func (d *Discord) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed, content string) (string, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embed:   embed,
		Content: content,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", wrap(err)
	}
	return msg.ID, nil
}

// EditEmbed replaces the embed on an existing message
func (d *Discord) EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) error {
	_, err := d.session.ChannelMessageEditEmbed(channelID, messageID, embed, discordgo.WithContext(ctx))
	return wrap(err)
}

// DeleteMessage removes a message
func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return wrap(d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

// AddReaction adds the bot's reaction to a message
func (d *Discord) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return wrap(d.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)))
}

// ClearReactions removes all reactions from a message
func (d *Discord) ClearReactions(ctx context.Context, channelID, messageID string) error {
	return wrap(d.session.MessageReactionsRemoveAll(channelID, messageID, discordgo.WithContext(ctx)))
}

// MessageReactions returns the distinct emoji currently reacted on a
// message
func (d *Discord) MessageReactions(ctx context.Context, channelID, messageID string) ([]string, error) {
	msg, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap(err)
	}
	emoji := make([]string, 0, len(msg.Reactions))
	for _, reaction := range msg.Reactions {
		emoji = append(emoji, reaction.Emoji.APIName())
	}
	return emoji, nil
}

// Member returns a guild member with display name and role names
// resolved, from cache when fresh
func (d *Discord) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	key := guildID + ":" + userID
	if cached, ok := d.members.Get(key); ok {
		if cached == nil {
			return nil, ErrNotFound
		}
		return cached.(*Member), nil
	}

	gm, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			// Negative entry so repeated lookups for departed members
			// don't hammer the API
			d.members.Set(key, nil, gocache.DefaultExpiration)
		}
		return nil, wrap(err)
	}

	roleNames, err := d.roleNames(ctx, guildID, gm.Roles)
	if err != nil {
		return nil, err
	}

	name := gm.Nick
	if name == "" && gm.User != nil {
		name = gm.User.Username
	}
	member := &Member{
		ID:          userID,
		DisplayName: name,
		RoleNames:   roleNames,
	}
	d.members.Set(key, member, gocache.DefaultExpiration)
	return member, nil
}

// HasModerationCapability reports whether a user may complete raids in
// a channel (Manage Messages)
func (d *Discord) HasModerationCapability(ctx context.Context, channelID, userID string) (bool, error) {
	perms, err := d.session.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, wrap(err)
	}
	return perms&discordgo.PermissionManageMessages != 0, nil
}

// BotCanManageRoles reports whether the bot holds Manage Roles in a
// guild
func (d *Discord) BotCanManageRoles(ctx context.Context, guildID string) (bool, error) {
	if d.session.State.User == nil {
		return false, nil
	}
	gm, err := d.session.GuildMember(guildID, d.session.State.User.ID, discordgo.WithContext(ctx))
	if err != nil {
		return false, wrap(err)
	}
	roles, err := d.guildRoles(ctx, guildID)
	if err != nil {
		return false, err
	}
	var perms int64
	for _, role := range roles {
		for _, id := range gm.Roles {
			if id == role.ID {
				perms |= role.Permissions
			}
		}
	}
	return perms&(discordgo.PermissionManageRoles|discordgo.PermissionAdministrator) != 0, nil
}

// guildRoles returns a guild's roles, cached briefly
func (d *Discord) guildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	if cached, ok := d.roles.Get(guildID); ok {
		return cached.([]*discordgo.Role), nil
	}
	roles, err := d.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap(err)
	}
	d.roles.Set(guildID, roles, gocache.DefaultExpiration)
	return roles, nil
}

func (d *Discord) roleNames(ctx context.Context, guildID string, roleIDs []string) ([]string, error) {
	roles, err := d.guildRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]string, len(roles))
	for _, role := range roles {
		byID[role.ID] = role.Name
	}
	names := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		if name, ok := byID[id]; ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// RoleByName finds a role ID by exact name, ErrNotFound when absent
func (d *Discord) RoleByName(ctx context.Context, guildID, name string) (string, error) {
	roles, err := d.guildRoles(ctx, guildID)
	if err != nil {
		return "", err
	}
	for _, role := range roles {
		if role.Name == name {
			return role.ID, nil
		}
	}
	return "", ErrNotFound
}

// EnsureRole finds or creates a mentionable role with the given name
func (d *Discord) EnsureRole(ctx context.Context, guildID, name string) (string, error) {
	if roleID, err := d.RoleByName(ctx, guildID, name); err == nil {
		return roleID, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	mentionable := true
	role, err := d.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        name,
		Mentionable: &mentionable,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", wrap(err)
	}
	d.roles.Delete(guildID)
	return role.ID, nil
}

// GrantRole adds a role to a member
func (d *Discord) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	d.members.Delete(guildID + ":" + userID)
	return wrap(d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// RevokeRole removes a role from a member
func (d *Discord) RevokeRole(ctx context.Context, guildID, userID, roleID string) error {
	d.members.Delete(guildID + ":" + userID)
	return wrap(d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// DeleteRole removes a role regardless of membership
func (d *Discord) DeleteRole(ctx context.Context, guildID, roleID string) error {
	err := d.session.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx))
	if err != nil && !isNotFound(err) {
		return wrap(err)
	}
	d.roles.Delete(guildID)
	return nil
}

// DeleteRoleIfEmpty removes a role when no member holds it
func (d *Discord) DeleteRoleIfEmpty(ctx context.Context, guildID, roleID string) (bool, error) {
	held, err := d.roleHeld(ctx, guildID, roleID)
	if err != nil {
		return false, err
	}
	if held {
		return false, nil
	}
	if err := d.session.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx)); err != nil {
		if isNotFound(err) {
			return true, nil
		}
		return false, wrap(err)
	}
	d.roles.Delete(guildID)
	return true, nil
}

// roleHeld reports whether any guild member holds the role
func (d *Discord) roleHeld(ctx context.Context, guildID, roleID string) (bool, error) {
	after := ""
	for {
		members, err := d.session.GuildMembers(guildID, after, 1000, discordgo.WithContext(ctx))
		if err != nil {
			return false, wrap(err)
		}
		if len(members) == 0 {
			return false, nil
		}
		for _, member := range members {
			for _, id := range member.Roles {
				if id == roleID {
					return true, nil
				}
			}
		}
		if len(members) < 1000 {
			return false, nil
		}
		after = members[len(members)-1].User.ID
	}
}

// RoleMention renders the mention string for a role
func (d *Discord) RoleMention(roleID string) string {
	return fmt.Sprintf("<@&%s>", roleID)
}
