package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SetWebhook registers url as the bot's update endpoint.
func (t *Telegram) SetWebhook(url string) (*tgbotapi.APIResponse, error) {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}

	resp, err := t.bot.Request(wh)
	if err != nil {
		return resp, fmt.Errorf("failed to set webhook: %w", err)
	}
	return resp, nil
}

// DeleteWebhook removes the webhook registration.
func (t *Telegram) DeleteWebhook() (*tgbotapi.APIResponse, error) {
	resp, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{})
	if err != nil {
		return resp, fmt.Errorf("failed to delete webhook: %w", err)
	}
	return resp, nil
}

// WebhookInfo returns the current webhook status.
func (t *Telegram) WebhookInfo() (tgbotapi.WebhookInfo, error) {
	info, err := t.bot.GetWebhookInfo()
	if err != nil {
		return info, fmt.Errorf("failed to get webhook info: %w", err)
	}
	return info, nil
}
