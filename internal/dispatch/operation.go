// Package dispatch routes named operations onto the queued path (Plan A) or
// the direct path (Plan B) and measures every dispatch.
package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/haasonsaas/dualpath/internal/abtest"
)

// Kind names an operation.
type Kind string

const (
	KindGenerateImage    Kind = "generate_image"
	KindSynthesizeSpeech Kind = "synthesize_speech"
	KindGenerateVideo    Kind = "generate_video"
)

// Kinds lists every operation kind.
var Kinds = []Kind{KindGenerateImage, KindSynthesizeSpeech, KindGenerateVideo}

// Operation is one of GenerateImage, SynthesizeSpeech or GenerateVideo.
type Operation interface {
	Kind() Kind
	Identity() string
	operation()
}

// Identity is the caller identifier. It decodes from a JSON string or number.
type Identity string

// UnmarshalJSON accepts "42", 42 and null.
func (id *Identity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = Identity(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user_id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = Identity(strconv.FormatInt(i, 10))
		return nil
	}
	*id = Identity(n.String())
	return nil
}

// Caller carries the fields every operation shares.
type Caller struct {
	UserID Identity `json:"user_id"`
	ChatID int64    `json:"chat_id,omitempty"`
}

// Identity returns the caller identifier used for bucketing.
func (c Caller) Identity() string { return string(c.UserID) }

// GenerateImage renders an image from a prompt.
type GenerateImage struct {
	Caller
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	Model  string `json:"model,omitempty"`
	Style  string `json:"style,omitempty"`
}

// SynthesizeSpeech turns text into audio.
type SynthesizeSpeech struct {
	Caller
	Text   string  `json:"text"`
	Voice  string  `json:"voice,omitempty"`
	Model  string  `json:"model,omitempty"`
	Format string  `json:"format,omitempty"`
	Speed  float64 `json:"speed,omitempty"`
}

// GenerateVideo renders a clip. It is only available on the queued path.
type GenerateVideo struct {
	Caller
	Prompt          string `json:"prompt"`
	ImageURL        string `json:"image_url,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

func (GenerateImage) Kind() Kind    { return KindGenerateImage }
func (SynthesizeSpeech) Kind() Kind { return KindSynthesizeSpeech }
func (GenerateVideo) Kind() Kind    { return KindGenerateVideo }

func (GenerateImage) operation()    {}
func (SynthesizeSpeech) operation() {}
func (GenerateVideo) operation()    {}

// ParseOperation decodes raw arguments into the typed operation for kind.
func ParseOperation(kind Kind, raw json.RawMessage) (Operation, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	switch kind {
	case KindGenerateImage:
		var op GenerateImage
		if err := decodeArgs(kind, raw, &op); err != nil {
			return nil, err
		}
		if strings.TrimSpace(op.Prompt) == "" {
			return nil, missingArgument(kind, "prompt")
		}
		return op, nil
	case KindSynthesizeSpeech:
		var op SynthesizeSpeech
		if err := decodeArgs(kind, raw, &op); err != nil {
			return nil, err
		}
		if strings.TrimSpace(op.Text) == "" {
			return nil, missingArgument(kind, "text")
		}
		if op.Speed < 0 {
			return nil, abtest.ErrInvalidArguments(fmt.Sprintf("%s: speed must not be negative", kind), nil)
		}
		return op, nil
	case KindGenerateVideo:
		var op GenerateVideo
		if err := decodeArgs(kind, raw, &op); err != nil {
			return nil, err
		}
		if strings.TrimSpace(op.Prompt) == "" && strings.TrimSpace(op.ImageURL) == "" {
			return nil, missingArgument(kind, "prompt")
		}
		if op.DurationSeconds < 0 {
			return nil, abtest.ErrInvalidArguments(fmt.Sprintf("%s: duration_seconds must not be negative", kind), nil)
		}
		return op, nil
	default:
		return nil, abtest.ErrUnsupportedOperation(string(kind), abtest.PlanA, abtest.PlanB)
	}
}

func decodeArgs(kind Kind, raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return abtest.ErrInvalidArguments(fmt.Sprintf("%s: invalid arguments", kind), err).
			WithContext("operation", string(kind))
	}
	return nil
}

func missingArgument(kind Kind, field string) error {
	return abtest.ErrInvalidArguments(fmt.Sprintf("%s: %s is required", kind, field), nil).
		WithContext("operation", string(kind)).
		WithContext("field", field)
}

// Payload flattens op into the map published on the queue.
func Payload(op Operation) (map[string]any, error) {
	raw, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", op.Kind(), err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encode %s: %w", op.Kind(), err)
	}
	return out, nil
}
