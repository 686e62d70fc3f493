package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"
)

var ErrPostmarkConfig = errors.New("postmark: invalid config")

type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkSender envia correos transaccionales con la API de Postmark.
type PostmarkSender struct {
	client postmarkAPI
	from   string
	tag    string
}

func NewPostmarkSender(serverToken, accountToken, from string) (*PostmarkSender, error) {
	if strings.TrimSpace(serverToken) == "" {
		return nil, fmt.Errorf("%w: server token is required", ErrPostmarkConfig)
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("%w: from is required", ErrPostmarkConfig)
	}
	return &PostmarkSender{
		client: postmark.NewClient(serverToken, accountToken),
		from:   from,
		tag:    "auth",
	}, nil
}

func (s *PostmarkSender) Send(ctx context.Context, toEmail, subject, body string) error {
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("to email is required")
	}
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.from,
		To:       toEmail,
		Subject:  subject,
		Tag:      s.tag,
		TextBody: body,
	})
	if err != nil {
		return fmt.Errorf("postmark send: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
