// Package mailer is the client for the external email-transport
// service. The transport's own SMTP configuration lives with that
// service; this side only posts {to, subject, html} payloads.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/reminder-engine/internal/config"
	customError "github.com/segyhp/reminder-engine/pkg/errors"
)

// Message is one outbound email.
type Message struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
}

// Mailer sends a single message synchronously.
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

type httpMailer struct {
	client  *http.Client
	url     string
	token   string
	timeout time.Duration
}

// NewHTTPMailer builds a Mailer that posts to the transport service.
// Every send carries its own bounded timeout so one unreachable
// transport cannot stall a whole fan-out batch.
func NewHTTPMailer(cfg *config.Config) Mailer {
	return &httpMailer{
		client:  &http.Client{},
		url:     cfg.Mailer.URL,
		token:   cfg.Mailer.Token,
		timeout: cfg.Mailer.GetMailerTimeout(),
	}
}

func (m *httpMailer) Send(ctx context.Context, msg *Message) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return customError.WrapMailerError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return customError.WrapMailerError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return customError.WrapMailerError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return customError.WrapMailerError(fmt.Errorf("mail transport returned status %d", resp.StatusCode))
	}

	return nil
}
