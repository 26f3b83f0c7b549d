package mirror

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/azelphur/ekpogo/internal/storage"
)

// doneColor marks completed raids green
const doneColor = 0x00FF00

const botWikiURL = "https://github.com/Azelphur/EkPoGo-Discord-Bot/wiki/Using-the-bot"

// Goer is one attendee prepared for display
type Goer struct {
	DisplayName string
	TeamEmoji   string
	Extra       int
}

// Snapshot is everything about a raid that rendering depends on.
// Every mirror of the raid renders from the same snapshot.
type Snapshot struct {
	Raid    *storage.Raid
	Gym     *storage.Gym
	Pokemon *storage.Pokemon
	Going   []Goer
}

// ChannelView is the per-channel presentation configuration. Two
// channels may render the same snapshot with different zones or
// mention policies while agreeing on every raid fact.
type ChannelView struct {
	Zone        *time.Location
	GoingEmoji  string
	RoleMention string
	Now         time.Time
}

// Render produces the embed and mention content for one channel. It is
// a pure function of its inputs.
func Render(snap Snapshot, view ChannelView) (*discordgo.MessageEmbed, string) {
	raid := snap.Raid
	gym := snap.Gym

	var startTime string
	if raid.StartTime.Sub(view.Now) > 24*time.Hour {
		startTime = raid.StartTime.In(view.Zone).Format("2006-01-02 15:04")
	} else {
		startTime = raid.StartTime.In(view.Zone).Format("15:04")
	}

	var sb strings.Builder
	var image string
	if snap.Pokemon == nil {
		level := 0
		if raid.Level != nil {
			level = *raid.Level
		}
		fmt.Fprintf(&sb, "**Level**: %d\n", level)
		image = fmt.Sprintf("https://www.trainerdex.co.uk/egg/%d.png", level)
	} else {
		image = fmt.Sprintf("https://www.trainerdex.co.uk/pokemon/%d.png", snap.Pokemon.ID)
		if snap.Pokemon.RaidLevel != nil {
			fmt.Fprintf(&sb, "**Pokemon**: %s (Level %d)\n", snap.Pokemon.Name, *snap.Pokemon.RaidLevel)
		} else {
			fmt.Fprintf(&sb, "**Pokemon**: %s\n", snap.Pokemon.Name)
		}
	}

	totalGoing := len(snap.Going)
	names := make([]string, 0, len(snap.Going))
	for _, goer := range snap.Going {
		totalGoing += goer.Extra
		name := goer.DisplayName
		if goer.TeamEmoji != "" {
			name = goer.TeamEmoji + " " + name
		}
		if goer.Extra > 0 {
			name = fmt.Sprintf("%s (+%d)", name, goer.Extra)
		}
		names = append(names, name)
	}

	fmt.Fprintf(&sb, "**Start Time**: %s\n", startTime)
	fmt.Fprintf(&sb, "**Going (%d)**\n", totalGoing)
	sb.WriteString(strings.Join(names, " | "))
	fmt.Fprintf(&sb, "\nPress the %s below if you are going\n[Click here](%s) more info about this bot", view.GoingEmoji, botWikiURL)

	mapsURL := fmt.Sprintf("https://www.google.com/maps/dir/Current+Location/%v,%v", gym.Latitude, gym.Longitude)
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s (#%d)", gym.Title, raid.ID),
		URL:         mapsURL,
		Description: sb.String(),
		Thumbnail: &discordgo.MessageEmbedThumbnail{
			URL: image,
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Raid ID %d. Ignore emoji counts, they are inaccurate.", raid.ID),
		},
	}
	if raid.Done {
		embed.Color = doneColor
	}

	return embed, view.RoleMention
}

// RenderGym produces the lookup embed for a gym on its own
func RenderGym(gym *storage.Gym) *discordgo.MessageEmbed {
	mapsURL := fmt.Sprintf("https://www.google.com/maps/dir/Current+Location/%v,%v", gym.Latitude, gym.Longitude)
	return &discordgo.MessageEmbed{
		Title:       gym.Title,
		URL:         mapsURL,
		Description: fmt.Sprintf("[Get Directions](%s)", mapsURL),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Gym ID %d.", gym.ID),
		},
	}
}
