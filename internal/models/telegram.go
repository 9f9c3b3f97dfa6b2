package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a setup notification.
type TelegramMessage struct {
	Success   bool
	Alias     string
	Host      string
	Coin      string
	StartTime time.Time
	Duration  time.Duration

	// Activation details (if successful).
	TxHash      string
	OutputIndex int
	Collateral  float64

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
