// Package generation implements the direct-path handlers: image and speech
// generation through the OpenAI API, delivered through a messenger.
package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/dualpath/internal/bots"
	"github.com/haasonsaas/dualpath/internal/dispatch"
)

// ImageClient creates images.
type ImageClient interface {
	CreateImage(ctx context.Context, request openai.ImageRequest) (openai.ImageResponse, error)
}

// SpeechClient synthesizes speech.
type SpeechClient interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// Config configures the handlers.
type Config struct {
	APIKey  string `yaml:"api_key" json:"-"`
	BaseURL string `yaml:"base_url" json:"baseUrl,omitempty"`

	ImageModel   string `yaml:"image_model" json:"imageModel"`
	ImageSize    string `yaml:"image_size" json:"imageSize"`
	SpeechModel  string `yaml:"speech_model" json:"speechModel"`
	Voice        string `yaml:"voice" json:"voice"`
	SpeechFormat string `yaml:"speech_format" json:"speechFormat"`

	// Collaborator is the messenger that delivers results.
	Collaborator string `yaml:"collaborator" json:"collaborator"`
}

func (c *Config) applyDefaults() {
	if c.ImageModel == "" {
		c.ImageModel = openai.CreateImageModelDallE3
	}
	if c.ImageSize == "" {
		c.ImageSize = openai.CreateImageSize1024x1024
	}
	if c.SpeechModel == "" {
		c.SpeechModel = string(openai.TTSModel1)
	}
	if c.Voice == "" {
		c.Voice = string(openai.VoiceAlloy)
	}
	if c.SpeechFormat == "" {
		c.SpeechFormat = string(openai.SpeechResponseFormatMp3)
	}
	if c.Collaborator == "" {
		c.Collaborator = "main"
	}
}

// Handlers runs image and speech operations.
type Handlers struct {
	images ImageClient
	speech SpeechClient
	config Config
	logger *slog.Logger
}

// New creates handlers backed by the OpenAI API.
func New(cfg Config, logger *slog.Logger) (*Handlers, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)
	return NewWithClients(client, client, cfg, logger), nil
}

// NewWithClients creates handlers around existing clients.
func NewWithClients(images ImageClient, speech SpeechClient, cfg Config, logger *slog.Logger) *Handlers {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		images: images,
		speech: speech,
		config: cfg,
		logger: logger.With("component", "generation"),
	}
}

// Bindings returns the direct-path registry. Video generation has no direct
// handler and only runs on the queue.
func (h *Handlers) Bindings() map[dispatch.Kind]dispatch.Binding {
	return map[dispatch.Kind]dispatch.Binding{
		dispatch.KindGenerateImage:    {Collaborator: h.config.Collaborator, Handler: h.GenerateImage},
		dispatch.KindSynthesizeSpeech: {Collaborator: h.config.Collaborator, Handler: h.SynthesizeSpeech},
	}
}

// GenerateImage renders the prompt and sends the image to the caller's chat.
func (h *Handlers) GenerateImage(ctx context.Context, messenger bots.Messenger, op dispatch.Operation) (dispatch.Outcome, error) {
	req, ok := op.(dispatch.GenerateImage)
	if !ok {
		return dispatch.Outcome{}, fmt.Errorf("generate image: unexpected operation %s", op.Kind())
	}

	model := firstNonEmpty(req.Model, h.config.ImageModel)
	resp, err := h.images.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		Size:           firstNonEmpty(req.Size, h.config.ImageSize),
		Style:          req.Style,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("create image: %w", err)
	}
	if len(resp.Data) == 0 {
		return dispatch.Outcome{}, errors.New("create image: empty response")
	}

	item := resp.Data[0]
	media := bots.Media{URL: item.URL, Filename: "image.png"}
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return dispatch.Outcome{}, fmt.Errorf("decode image: %w", err)
		}
		media.Data = data
	}

	if err := deliver(req.ChatID, func(chatID int64) error {
		return messenger.SendPhoto(ctx, chatID, media, caption(req.Prompt, item.RevisedPrompt))
	}); err != nil {
		return dispatch.Outcome{}, err
	}

	return outcome(media, fmt.Sprintf("image generated with %s", model)), nil
}

// SynthesizeSpeech renders the text to audio and sends it to the caller's chat.
func (h *Handlers) SynthesizeSpeech(ctx context.Context, messenger bots.Messenger, op dispatch.Operation) (dispatch.Outcome, error) {
	req, ok := op.(dispatch.SynthesizeSpeech)
	if !ok {
		return dispatch.Outcome{}, fmt.Errorf("synthesize speech: unexpected operation %s", op.Kind())
	}

	format := firstNonEmpty(req.Format, h.config.SpeechFormat)
	resp, err := h.speech.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(firstNonEmpty(req.Model, h.config.SpeechModel)),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(firstNonEmpty(req.Voice, h.config.Voice)),
		ResponseFormat: openai.SpeechResponseFormat(format),
		Speed:          req.Speed,
	})
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("read speech: %w", err)
	}
	media := bots.Media{Data: data, Filename: "speech." + format}

	if err := deliver(req.ChatID, func(chatID int64) error {
		return messenger.SendAudio(ctx, chatID, media, "")
	}); err != nil {
		return dispatch.Outcome{}, err
	}

	return outcome(media, fmt.Sprintf("%d bytes of %s audio", len(data), format)), nil
}

// deliver sends to chatID. Calls without a chat are generated but not delivered.
func deliver(chatID int64, send func(int64) error) error {
	if chatID == 0 {
		return nil
	}
	if err := send(chatID); err != nil {
		return fmt.Errorf("deliver to chat %d: %w", chatID, err)
	}
	return nil
}

func outcome(media bots.Media, detail string) dispatch.Outcome {
	out := dispatch.Outcome{Detail: detail}
	if len(media.Data) > 0 {
		size := media.Size()
		out.ResponseSize = &size
	}
	return out
}

func caption(prompt, revised string) string {
	text := strings.TrimSpace(revised)
	if text == "" {
		text = strings.TrimSpace(prompt)
	}
	const maxCaption = 1024
	if runes := []rune(text); len(runes) > maxCaption {
		text = string(runes[:maxCaption-3]) + "..."
	}
	return text
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
