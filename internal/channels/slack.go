package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
)

// SlackSender delivers chat notifications. The contact's chat handle is
// the Slack channel or user ID to post to.
type SlackSender struct {
	client slackPoster
}

// slackPoster is the slice of the Slack API the sender needs; tests swap
// in a fake.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

func NewSlackSender(token string) *SlackSender {
	return &SlackSender{client: slack.New(token)}
}

func (s *SlackSender) Channel() models.Channel {
	return models.ChannelChat
}

func (s *SlackSender) Send(ctx context.Context, address string, msg Message) (Result, error) {
	channelID, timestamp, err := s.client.PostMessageContext(ctx, address,
		slack.MsgOptionText(msg.Body, false))
	if err != nil {
		var rateLimited *slack.RateLimitedError
		if errors.As(err, &rateLimited) {
			return Result{}, Transient(fmt.Errorf("slack rate limited: %w", err))
		}
		switch err.Error() {
		case "channel_not_found", "is_archived", "not_in_channel":
			return Result{}, Permanent(fmt.Errorf("slack rejected handle %s: %w", address, err))
		}
		return Result{}, Transient(fmt.Errorf("slack post failed: %w", err))
	}

	return Result{ProviderMessageID: channelID + ":" + timestamp}, nil
}
