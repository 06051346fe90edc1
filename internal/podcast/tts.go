package podcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pitchcoach/pitchcoach/pkg/audio"
)

// Synthesizer turns a podcast script into decoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, script string) (*audio.Buffer, error)
}

const (
	defaultTTSModel   = "gemini-2.5-flash-preview-tts"
	defaultTTSBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// ttsSampleRate is the fixed output rate of the Gemini TTS endpoint:
	// 24 kHz mono s16le PCM.
	ttsSampleRate = 24000
)

// TTSOption configures a GeminiTTS client.
type TTSOption func(*GeminiTTS)

// WithTTSModel overrides the default TTS model.
func WithTTSModel(model string) TTSOption {
	return func(t *GeminiTTS) { t.model = model }
}

// WithTTSBaseURL overrides the API endpoint. Primarily used in tests.
func WithTTSBaseURL(url string) TTSOption {
	return func(t *GeminiTTS) { t.baseURL = url }
}

// WithTTSVoice selects a prebuilt voice for synthesis.
func WithTTSVoice(voice string) TTSOption {
	return func(t *GeminiTTS) { t.voice = voice }
}

// WithTTSHTTPClient swaps the HTTP client.
func WithTTSHTTPClient(c *http.Client) TTSOption {
	return func(t *GeminiTTS) { t.client = c }
}

// GeminiTTS synthesises podcast audio through the Gemini generateContent
// REST endpoint with the AUDIO response modality. Responses carry base64
// PCM which is reinterpreted straight into a Buffer — no container decode.
type GeminiTTS struct {
	apiKey  string
	model   string
	baseURL string
	voice   string
	client  *http.Client
}

// NewGeminiTTS creates a TTS client with the given API key and options.
func NewGeminiTTS(apiKey string, opts ...TTSOption) *GeminiTTS {
	t := &GeminiTTS{
		apiKey:  apiKey,
		model:   defaultTTSModel,
		baseURL: defaultTTSBaseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// ── REST message types ────────────────────────────────────────────────────────

type ttsRequest struct {
	Contents         []ttsContent        `json:"contents"`
	GenerationConfig ttsGenerationConfig `json:"generationConfig"`
}

type ttsContent struct {
	Parts []ttsPart `json:"parts"`
}

type ttsPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *ttsInlineData `json:"inlineData,omitempty"`
}

type ttsInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type ttsGenerationConfig struct {
	ResponseModalities []string         `json:"responseModalities"`
	SpeechConfig       *ttsSpeechConfig `json:"speechConfig,omitempty"`
}

type ttsSpeechConfig struct {
	VoiceConfig ttsVoiceConfig `json:"voiceConfig"`
}

type ttsVoiceConfig struct {
	PrebuiltVoiceConfig ttsPrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type ttsPrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type ttsResponse struct {
	Candidates []struct {
		Content ttsContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Synthesize implements Synthesizer.
func (t *GeminiTTS) Synthesize(ctx context.Context, script string) (*audio.Buffer, error) {
	reqBody := ttsRequest{
		Contents: []ttsContent{{Parts: []ttsPart{{Text: script}}}},
		GenerationConfig: ttsGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if t.voice != "" {
		reqBody.GenerationConfig.SpeechConfig = &ttsSpeechConfig{
			VoiceConfig: ttsVoiceConfig{
				PrebuiltVoiceConfig: ttsPrebuiltVoice{VoiceName: t.voice},
			},
		}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("podcast: marshal tts request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", t.baseURL, t.model, t.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("podcast: build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("podcast: tts request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("podcast: read tts response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("podcast: tts status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed ttsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("podcast: parse tts response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("podcast: tts error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}

	for _, cand := range parsed.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			buf, err := audio.DecodePCM(part.InlineData.Data, ttsSampleRate, 1)
			if err != nil {
				return nil, fmt.Errorf("podcast: decode tts audio: %w", err)
			}
			return buf, nil
		}
	}
	return nil, fmt.Errorf("podcast: tts response contains no audio")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
