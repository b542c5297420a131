package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"care-dispatch/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type emailClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier mails notifications to a fixed address, normally the operator
// mailbox behind the EMAIL channel.
type SESNotifier struct {
	client emailClient
	from   string
	to     string
}

func NewSESNotifier(cfg aws.Config, from, to string) (*SESNotifier, error) {
	if from == "" {
		return nil, errors.New("email from address is required")
	}
	if to == "" {
		return nil, errors.New("email ops address is required")
	}
	return &SESNotifier{client: sesv2.NewFromConfig(cfg), from: from, to: to}, nil
}

func (s *SESNotifier) Notify(ctx context.Context, n models.Notification) error {
	subject := n.Title
	if n.Urgent {
		subject = "[URGENT] " + subject
	}

	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{s.to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(emailBody(n))},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send %s: %w", n.EventType, err)
	}
	return nil
}

func emailBody(n models.Notification) string {
	var b strings.Builder
	b.WriteString(n.Body)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "event: %s\n", n.EventType)
	if n.ItemID != "" {
		fmt.Fprintf(&b, "item: %s\n", n.ItemID)
	}
	fmt.Fprintf(&b, "at: %s\n", n.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	return b.String()
}
