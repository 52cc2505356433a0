package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
)

// webhookSender posts each code to an SMS gateway webhook as JSON.
type webhookSender struct {
	url    string
	client *http.Client
}

func newWebhookSender(url string) *webhookSender {
	return &webhookSender{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

type webhookPayload struct {
	Phone     string    `json:"phone"`
	Channel   string    `json:"channel"`
	Purpose   string    `json:"purpose"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *webhookSender) SendCode(ctx context.Context, msg goGuard.CodeMessage) error {
	body, err := json.Marshal(webhookPayload{
		Phone:     msg.Phone,
		Channel:   msg.Channel,
		Purpose:   msg.Purpose,
		Code:      msg.Code,
		ExpiresAt: msg.ExpiresAt,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms webhook returned %d", resp.StatusCode)
	}
	return nil
}
