package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"remindd/internal/reminder"
	logx "remindd/pkg/logx"
)

const whatsappPrefix = "whatsapp:"

// messageAPI is the part of the Twilio REST client used here.
type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Twilio sends reminders as SMS or WhatsApp messages.
type Twilio struct {
	cfg TwilioConfig
	api messageAPI
	log logx.Logger
}

func NewTwilio(cfg TwilioConfig, log logx.Logger) (*Twilio, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("%w: twilio account sid and auth token are required", ErrNotConfigured)
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilio(cfg, client.Api, log)
}

func newTwilio(cfg TwilioConfig, api messageAPI, log logx.Logger) (*Twilio, error) {
	cfg.Channel = strings.ToLower(strings.TrimSpace(cfg.Channel))
	if cfg.Channel == "" {
		cfg.Channel = ChannelSMS
	}
	switch cfg.Channel {
	case ChannelSMS:
		if strings.TrimSpace(cfg.From) == "" {
			return nil, fmt.Errorf("%w: twilio sender number is required", ErrNotConfigured)
		}
	case ChannelWhatsApp:
		if strings.TrimSpace(cfg.WhatsAppFrom) == "" {
			return nil, fmt.Errorf("%w: twilio whatsapp sender number is required", ErrNotConfigured)
		}
	default:
		return nil, fmt.Errorf("unknown twilio channel %q", cfg.Channel)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Twilio{cfg: cfg, api: api, log: log.With(logx.String("comp", "notifier.twilio"))}, nil
}

func (t *Twilio) SendReminder(ctx context.Context, ev reminder.Event, phone string) (reminder.Receipt, error) {
	to, err := NormalizePhone(phone)
	if err != nil {
		return reminder.Receipt{}, err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetBody(FormatMessage(ev))
	if t.cfg.Channel == ChannelWhatsApp {
		params.SetTo(whatsappPrefix + to)
		params.SetFrom(whatsappPrefix + strings.TrimPrefix(t.cfg.WhatsAppFrom, whatsappPrefix))
	} else {
		params.SetTo(to)
		params.SetFrom(t.cfg.From)
	}

	type result struct {
		msg *twilioApi.ApiV2010Message
		err error
	}
	// The REST client takes no context; give up waiting when ctx ends.
	ch := make(chan result, 1)
	go func() {
		msg, err := t.api.CreateMessage(params)
		ch <- result{msg: msg, err: err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return reminder.Receipt{}, ctx.Err()
	case r = <-ch:
	}
	if r.err != nil {
		return reminder.Receipt{}, fmt.Errorf("twilio create message: %w", r.err)
	}
	if r.msg == nil {
		return reminder.Receipt{}, errors.New("twilio create message: empty response")
	}
	if r.msg.ErrorCode != nil {
		detail := ""
		if r.msg.ErrorMessage != nil {
			detail = *r.msg.ErrorMessage
		}
		return reminder.Receipt{}, fmt.Errorf("%w: twilio error %d %s", ErrRejected, *r.msg.ErrorCode, detail)
	}

	rc := reminder.Receipt{Channel: t.cfg.Channel}
	if r.msg.Sid != nil {
		rc.MessageID = *r.msg.Sid
	} else {
		t.log.Warn("message accepted without sid", logx.String("to", to))
	}
	return rc, nil
}
