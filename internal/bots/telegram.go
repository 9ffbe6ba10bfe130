package bots

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// BotClient is the subset of *bot.Bot the Telegram messenger uses.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendAudio(ctx context.Context, params *bot.SendAudioParams) (*models.Message, error)
}

// TelegramConfig configures a Telegram messenger.
type TelegramConfig struct {
	Name   string
	Token  string
	Logger *slog.Logger
}

// Telegram delivers results through the Telegram Bot API.
type Telegram struct {
	name   string
	client BotClient
	logger *slog.Logger
}

// NewTelegram creates a messenger backed by a live bot.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	b, err := bot.New(cfg.Token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewTelegramWithClient(cfg.Name, b, cfg.Logger), nil
}

// NewTelegramWithClient creates a messenger around an existing client.
func NewTelegramWithClient(name string, client BotClient, logger *slog.Logger) *Telegram {
	if name == "" {
		name = "telegram"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		name:   name,
		client: client,
		logger: logger.With("messenger", name),
	}
}

func (t *Telegram) Name() string { return t.name }

// SendText sends a plain text message.
func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := t.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		t.logger.Warn("send message failed", "chat_id", chatID, "error", err)
		return fmt.Errorf("telegram send message: %w", err)
	}
	return nil
}

// SendPhoto sends a photo by URL or upload.
func (t *Telegram) SendPhoto(ctx context.Context, chatID int64, photo Media, caption string) error {
	file, err := inputFile(photo, "image.png")
	if err != nil {
		return err
	}
	_, err = t.client.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:  chatID,
		Photo:   file,
		Caption: caption,
	})
	if err != nil {
		t.logger.Warn("send photo failed", "chat_id", chatID, "error", err)
		return fmt.Errorf("telegram send photo: %w", err)
	}
	return nil
}

// SendAudio sends an audio file by URL or upload.
func (t *Telegram) SendAudio(ctx context.Context, chatID int64, audio Media, caption string) error {
	file, err := inputFile(audio, "speech.mp3")
	if err != nil {
		return err
	}
	_, err = t.client.SendAudio(ctx, &bot.SendAudioParams{
		ChatID:  chatID,
		Audio:   file,
		Caption: caption,
	})
	if err != nil {
		t.logger.Warn("send audio failed", "chat_id", chatID, "error", err)
		return fmt.Errorf("telegram send audio: %w", err)
	}
	return nil
}

func inputFile(m Media, fallbackName string) (models.InputFile, error) {
	switch {
	case len(m.Data) > 0:
		name := m.Filename
		if name == "" {
			name = fallbackName
		}
		return &models.InputFileUpload{Filename: name, Data: bytes.NewReader(m.Data)}, nil
	case m.URL != "":
		return &models.InputFileString{Data: m.URL}, nil
	default:
		return nil, errors.New("media has neither data nor url")
	}
}
