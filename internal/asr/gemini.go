package asr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

// Gemini transcribes clips by sending inline WAV bytes to a multimodal model.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Gemini{client: c, model: model}, nil
}

func (g *Gemini) Transcribe(ctx context.Context, clip, lang string) (string, error) {
	data, err := os.ReadFile(clip)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, "audio/wav"),
			genai.NewPartFromText(geminiPrompt(lang)),
		}, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func geminiPrompt(lang string) string {
	p := "Transcribe the speech in this audio verbatim. Reply with the transcript text only, without timestamps or speaker labels."
	if lang != "" {
		p += " The spoken language is " + lang + "."
	}
	return p
}
