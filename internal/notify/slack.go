package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// slackPoster abstracts the one Slack API call we make, enabling test mocks.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts alerts to a Slack channel.
type Slack struct {
	client    slackPoster
	channelID string
}

// NewSlack returns a Slack notifier posting to channelID with the given
// bot token (xoxb-...).
func NewSlack(botToken, channelID string) *Slack {
	return &Slack{
		client:    slackapi.New(botToken),
		channelID: channelID,
	}
}

// Notify implements Notifier.
func (s *Slack) Notify(ctx context.Context, subject, body string) error {
	text := fmt.Sprintf("*%s*\n%s", subject, body)
	_, _, err := s.client.PostMessageContext(ctx, s.channelID,
		slackapi.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: slack post to %s: %w", s.channelID, err)
	}
	return nil
}
