package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/dualpath/internal/bots"
	"github.com/haasonsaas/dualpath/internal/dispatch"
)

type fakeImages struct {
	requests []openai.ImageRequest
	resp     openai.ImageResponse
	err      error
}

func (f *fakeImages) CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

type fakeSpeech struct {
	requests []openai.CreateSpeechRequest
	audio    string
	err      error
}

func (f *fakeSpeech) CreateSpeech(ctx context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.RawResponse{}, f.err
	}
	return openai.RawResponse{ReadCloser: io.NopCloser(strings.NewReader(f.audio))}, nil
}

type recordingMessenger struct {
	photos  []bots.Media
	audio   []bots.Media
	chatIDs []int64
	err     error
}

func (m *recordingMessenger) Name() string { return "main" }
func (m *recordingMessenger) SendText(ctx context.Context, chatID int64, text string) error {
	return m.err
}
func (m *recordingMessenger) SendPhoto(ctx context.Context, chatID int64, photo bots.Media, caption string) error {
	m.photos = append(m.photos, photo)
	m.chatIDs = append(m.chatIDs, chatID)
	return m.err
}
func (m *recordingMessenger) SendAudio(ctx context.Context, chatID int64, audio bots.Media, caption string) error {
	m.audio = append(m.audio, audio)
	m.chatIDs = append(m.chatIDs, chatID)
	return m.err
}

func TestGenerateImageDelivers(t *testing.T) {
	png := []byte("\x89PNG fake")
	images := &fakeImages{resp: openai.ImageResponse{Data: []openai.ImageResponseDataInner{
		{B64JSON: base64.StdEncoding.EncodeToString(png), RevisedPrompt: "a red fox at dawn"},
	}}}
	h := NewWithClients(images, &fakeSpeech{}, Config{}, nil)
	m := &recordingMessenger{}

	op := dispatch.GenerateImage{Caller: dispatch.Caller{UserID: "1", ChatID: 55}, Prompt: "fox", Size: "512x512"}
	out, err := h.GenerateImage(context.Background(), m, op)
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if out.ResponseSize == nil || *out.ResponseSize != int64(len(png)) {
		t.Fatalf("unexpected size %v", out.ResponseSize)
	}
	req := images.requests[0]
	if req.Model != openai.CreateImageModelDallE3 || req.Size != "512x512" || req.N != 1 {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(m.photos) != 1 || m.chatIDs[0] != 55 || string(m.photos[0].Data) != string(png) {
		t.Fatalf("photo not delivered: %+v", m.photos)
	}
}

func TestGenerateImageURLHasNoSize(t *testing.T) {
	images := &fakeImages{resp: openai.ImageResponse{Data: []openai.ImageResponseDataInner{{URL: "https://img.example.com/1.png"}}}}
	h := NewWithClients(images, nil, Config{}, nil)
	out, err := h.GenerateImage(context.Background(), &recordingMessenger{}, dispatch.GenerateImage{Prompt: "fox"})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if out.ResponseSize != nil {
		t.Fatalf("url responses carry no size")
	}
}

func TestGenerateImageErrors(t *testing.T) {
	h := NewWithClients(&fakeImages{err: errors.New("rate limited")}, nil, Config{}, nil)
	if _, err := h.GenerateImage(context.Background(), &recordingMessenger{}, dispatch.GenerateImage{Prompt: "fox"}); err == nil {
		t.Fatalf("expected provider error")
	}

	h = NewWithClients(&fakeImages{}, nil, Config{}, nil)
	if _, err := h.GenerateImage(context.Background(), &recordingMessenger{}, dispatch.GenerateImage{Prompt: "fox"}); err == nil {
		t.Fatalf("expected empty response error")
	}

	if _, err := h.GenerateImage(context.Background(), &recordingMessenger{}, dispatch.SynthesizeSpeech{Text: "x"}); err == nil {
		t.Fatalf("expected type error")
	}
}

func TestSynthesizeSpeech(t *testing.T) {
	speech := &fakeSpeech{audio: "ID3audio-bytes"}
	h := NewWithClients(nil, speech, Config{Voice: "nova"}, nil)
	m := &recordingMessenger{}

	op := dispatch.SynthesizeSpeech{Caller: dispatch.Caller{ChatID: 9}, Text: "hello", Format: "opus"}
	out, err := h.SynthesizeSpeech(context.Background(), m, op)
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if out.ResponseSize == nil || *out.ResponseSize != int64(len("ID3audio-bytes")) {
		t.Fatalf("unexpected size %v", out.ResponseSize)
	}
	req := speech.requests[0]
	if req.Voice != "nova" || req.ResponseFormat != "opus" || req.Model != openai.TTSModel1 || req.Input != "hello" {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(m.audio) != 1 || m.audio[0].Filename != "speech.opus" {
		t.Fatalf("audio not delivered: %+v", m.audio)
	}
}

func TestDeliveryFailureFailsHandler(t *testing.T) {
	speech := &fakeSpeech{audio: "abc"}
	h := NewWithClients(nil, speech, Config{}, nil)
	m := &recordingMessenger{err: errors.New("chat not found")}
	_, err := h.SynthesizeSpeech(context.Background(), m, dispatch.SynthesizeSpeech{Caller: dispatch.Caller{ChatID: 1}, Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected delivery error, got %v", err)
	}
}

func TestBindingsExcludeVideo(t *testing.T) {
	h := NewWithClients(nil, nil, Config{Collaborator: "support"}, nil)
	b := h.Bindings()
	if _, ok := b[dispatch.KindGenerateVideo]; ok {
		t.Fatalf("video must only be available on the queue")
	}
	if b[dispatch.KindGenerateImage].Collaborator != "support" || b[dispatch.KindSynthesizeSpeech].Handler == nil {
		t.Fatalf("unexpected bindings %+v", b)
	}
	reg := dispatch.Registries{Events: dispatch.DefaultEvents(), Bindings: b}
	if err := reg.Validate(); err != nil {
		t.Fatalf("bindings do not validate: %v", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := New(Config{APIKey: "sk-test"}, nil); err != nil {
		t.Fatalf("New: %v", err)
	}
}
