package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordSender abstracts the one Discord API call we make, enabling
// test mocks.
type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts to a Discord channel.
type Discord struct {
	session   discordSender
	channelID string
}

// NewDiscord returns a Discord notifier posting to channelID with the
// given bot token.
func NewDiscord(botToken, channelID string) (*Discord, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &Discord{session: session, channelID: channelID}, nil
}

// Notify implements Notifier.
func (d *Discord) Notify(_ context.Context, subject, body string) error {
	content := fmt.Sprintf("**%s**\n%s", subject, body)
	if _, err := d.session.ChannelMessageSend(d.channelID, content); err != nil {
		return fmt.Errorf("notify: discord post to %s: %w", d.channelID, err)
	}
	return nil
}
