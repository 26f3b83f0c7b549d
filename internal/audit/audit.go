// Package audit fans raid activity lines out to every channel with the
// log setting enabled. Delivery is best effort; a missing log channel
// never aborts the operation that triggered the line.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/azelphur/ekpogo/internal/platform"
	"github.com/azelphur/ekpogo/internal/settings"
)

// Logger writes audit lines to a guild's configured log channels
type Logger struct {
	resolver  *settings.Resolver
	messenger platform.Messenger
}

// NewLogger creates an audit logger
func NewLogger(resolver *settings.Resolver, messenger platform.Messenger) *Logger {
	return &Logger{resolver: resolver, messenger: messenger}
}

// Logf formats and delivers one audit line to every log-enabled
// channel in the guild. Failures are swallowed.
func (l *Logger) Logf(ctx context.Context, guildID, format string, args ...any) {
	channels, err := l.resolver.MirrorChannels(guildID, "log")
	if err != nil {
		slog.Warn("Failed to resolve log channels", "guild", guildID, "error", err)
		return
	}

	line := fmt.Sprintf(format, args...)
	for _, channelID := range channels {
		if _, err := l.messenger.SendMessage(ctx, channelID, line); err != nil {
			slog.Warn("Failed to deliver audit line", "channel", channelID, "error", err)
		}
	}
}
