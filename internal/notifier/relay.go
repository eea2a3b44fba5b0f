package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"remindd/internal/reminder"
)

// Relay hands reminders to a remote HTTP endpoint that performs the send.
// The endpoint takes {"event":…,"phoneNumber":…} and answers
// {"success":true,"messageId":…} or {"success":false,"error":…}.
type Relay struct {
	url    string
	client *http.Client
}

func NewRelay(cfg RelayConfig) (*Relay, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, fmt.Errorf("%w: relay url is required", ErrNotConfigured)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Relay{url: u, client: &http.Client{Timeout: timeout}}, nil
}

type relayRequest struct {
	Event       reminder.Event `json:"event"`
	PhoneNumber string         `json:"phoneNumber"`
}

type relayResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

func (r *Relay) SendReminder(ctx context.Context, ev reminder.Event, phone string) (reminder.Receipt, error) {
	body, err := json.Marshal(relayRequest{Event: ev, PhoneNumber: phone})
	if err != nil {
		return reminder.Receipt{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return reminder.Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return reminder.Receipt{}, fmt.Errorf("relay: %w", err)
	}
	defer resp.Body.Close()

	var out relayResponse
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return reminder.Receipt{}, fmt.Errorf("relay: read response: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return reminder.Receipt{}, fmt.Errorf("relay: status %d: undecodable response", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return reminder.Receipt{}, fmt.Errorf("%w: relay status %d: %s", ErrRejected, resp.StatusCode, msg)
	}
	return reminder.Receipt{Channel: ChannelRelay, MessageID: out.MessageID}, nil
}
