// Package subscription manages opt-in notification groups backed by
// mentionable platform roles. Groups are created on first subscribe
// and destroyed when the last member leaves.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/azelphur/ekpogo/internal/platform"
)

// Manager creates, grants, revokes and tears down named recipient sets
type Manager struct {
	messenger platform.Messenger
}

// NewManager creates a subscription manager
func NewManager(messenger platform.Messenger) *Manager {
	return &Manager{messenger: messenger}
}

// Subscribe adds a user to the named group, creating the group if it
// does not exist
func (m *Manager) Subscribe(ctx context.Context, guildID, userID, name string) error {
	roleID, err := m.messenger.EnsureRole(ctx, guildID, name)
	if err != nil {
		return fmt.Errorf("failed to ensure group %q: %w", name, err)
	}
	if err := m.messenger.GrantRole(ctx, guildID, userID, roleID); err != nil {
		return fmt.Errorf("failed to add user to group %q: %w", name, err)
	}
	return nil
}

// Unsubscribe removes a user from the named group and deletes the
// group when no member remains. Returns platform.ErrNotFound when the
// group does not exist.
func (m *Manager) Unsubscribe(ctx context.Context, guildID, userID, name string) error {
	roleID, err := m.messenger.RoleByName(ctx, guildID, name)
	if err != nil {
		return err
	}
	if err := m.messenger.RevokeRole(ctx, guildID, userID, roleID); err != nil && !errors.Is(err, platform.ErrNotFound) {
		return fmt.Errorf("failed to remove user from group %q: %w", name, err)
	}
	deleted, err := m.messenger.DeleteRoleIfEmpty(ctx, guildID, roleID)
	if err != nil {
		return fmt.Errorf("failed to clean up group %q: %w", name, err)
	}
	if deleted {
		slog.Debug("Removed empty subscription group", "guild", guildID, "group", name)
	}
	return nil
}

// Destroy tears down the named group regardless of membership. Used
// when a raid completes and its implicit attendee group is retired.
func (m *Manager) Destroy(ctx context.Context, guildID, name string) error {
	roleID, err := m.messenger.RoleByName(ctx, guildID, name)
	if errors.Is(err, platform.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	// Deleting the role removes the grant from everyone holding it.
	return m.messenger.DeleteRole(ctx, guildID, roleID)
}

// RaidGroupName is the name of the implicit per-raid attendee group
func RaidGroupName(raidID int64) string {
	return fmt.Sprintf("raid-%d", raidID)
}
