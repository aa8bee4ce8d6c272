package synth

import (
	"context"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

type openaiSynth struct {
	client *openai.Client
}

// NewOpenAISynth returns a synthesizer backed by the hosted OpenAI speech
// endpoint. The endpoint is treated as the source of truth for its own
// failures; any error aborts the caller's current run.
func NewOpenAISynth(apiKey string) Synthesizer {
	return &openaiSynth{client: openai.NewClient(apiKey)}
}

func (o *openaiSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(req.Model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech request: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read openai speech response: %w", err)
	}
	return data, nil
}
