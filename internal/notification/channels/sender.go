package channels

import (
	"context"
	"fmt"

	"github.com/comandahub/paycore/internal/notification/domain"
	"github.com/comandahub/paycore/internal/providers/email"
	"github.com/comandahub/paycore/internal/providers/slack"
	"github.com/google/uuid"
	"go.uber.org/fx"
)

// Sender delivers one rendered notification over a channel and returns the
// provider message id.
type Sender interface {
	Send(ctx context.Context, channel domain.Channel, address, subject, body string) (string, error)
}

type Params struct {
	fx.In

	Email email.Provider
	Slack slack.Provider
}

type sender struct {
	email email.Provider
	slack slack.Provider
}

func New(p Params) Sender {
	return &sender{email: p.Email, slack: p.Slack}
}

func (s *sender) Send(ctx context.Context, channel domain.Channel, address, subject, body string) (string, error) {
	switch channel {
	case domain.ChannelEmail:
		if err := s.email.Send(ctx, []string{address}, subject, body); err != nil {
			return "", err
		}
	case domain.ChannelSlack:
		message := body
		if subject != "" {
			message = fmt.Sprintf("*%s*\n%s", subject, body)
		}
		if err := s.slack.PostMessage(ctx, message); err != nil {
			return "", err
		}
	default:
		return "", domain.ErrInvalidChannel
	}
	// SMTP and Slack webhooks return no message id; mint one so delivery
	// callbacks have something to correlate on.
	return uuid.NewString(), nil
}

// NoopSender accepts everything without delivering. Used in tests and when
// no channel is configured.
type NoopSender struct {
	Err error
}

func (s *NoopSender) Send(ctx context.Context, channel domain.Channel, address, subject, body string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return uuid.NewString(), nil
}
