package podcast

import (
	"context"
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
)

// ScriptWriter produces a podcast script for one masterclass module.
type ScriptWriter interface {
	WriteScript(ctx context.Context, moduleTitle, moduleContent string) (string, error)
}

// scriptSystemPrompt frames the writer persona for every module script.
const scriptSystemPrompt = "You are a podcast producer for a founder-education " +
	"masterclass on startup fundraising. You turn module content into tight, " +
	"engaging two-host conversations."

// GeminiScriptWriter generates podcast scripts through the Gemini chat API
// via the any-llm provider layer.
type GeminiScriptWriter struct {
	backend anyllmlib.Provider
	model   string
}

// NewGeminiScriptWriter creates a script writer for the given model. An
// empty apiKey falls back to the GEMINI_API_KEY / GOOGLE_API_KEY
// environment variables; baseURL overrides the default endpoint (used in
// tests).
func NewGeminiScriptWriter(apiKey, model, baseURL string) (*GeminiScriptWriter, error) {
	if model == "" {
		model = "gemini-2.0-flash-exp"
	}
	var opts []anyllmlib.Option
	if apiKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(baseURL))
	}
	backend, err := gemini.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("podcast: create gemini backend: %w", err)
	}
	return &GeminiScriptWriter{backend: backend, model: model}, nil
}

// WriteScript implements ScriptWriter.
func (w *GeminiScriptWriter) WriteScript(ctx context.Context, moduleTitle, moduleContent string) (string, error) {
	prompt := fmt.Sprintf(`Generate a podcast script for %s.
Create an engaging conversation between two hosts discussing the key concepts.
Make it conversational, informative, and engaging.
Length: 3-5 minutes when spoken.
Based strictly on the masterclass content provided.

Module content:
%s`, moduleTitle, moduleContent)

	params := anyllmlib.CompletionParams{
		Model: w.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: scriptSystemPrompt},
			{Role: anyllmlib.RoleUser, Content: prompt},
		},
	}

	resp, err := w.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("podcast: script completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("podcast: script completion returned no choices")
	}
	script := resp.Choices[0].Message.ContentString()
	if script == "" {
		return "", fmt.Errorf("podcast: script completion returned empty content")
	}
	return script, nil
}
