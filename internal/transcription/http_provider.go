package transcription

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// HTTPProvider calls a remote ASR endpoint over HTTP, the interchangeable
// alternative to the local whisper.cpp provider that spec.md section 6's
// provider abstraction requires. Request/response shape grounded on
// team-hashing-lokutor-orchestrator's DeepgramSTT (raw PCM body, bearer
// auth header, JSON transcript response), built on
// github.com/go-resty/resty/v2 instead of net/http directly. The client
// applies the request timeout; it does not retry, since the stage owns
// the retry/backoff policy.
type HTTPProvider struct {
	client   *resty.Client
	endpoint string
	apiKey   string
}

type httpTranscribeResponse struct {
	Text       string        `json:"text"`
	Confidence float32       `json:"confidence"`
	Language   string        `json:"language"`
	Words      []httpWord    `json:"words"`
}

type httpWord struct {
	Word       string  `json:"word"`
	StartMS    int64   `json:"start_ms"`
	EndMS      int64   `json:"end_ms"`
	Confidence float32 `json:"confidence"`
}

// NewHTTPProvider creates an HTTP-backed ASR provider.
func NewHTTPProvider(endpoint, apiKey string, timeout int) *HTTPProvider {
	client := resty.New().
		SetBaseURL(endpoint).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetRetryCount(0) // stage.go owns the retry/backoff policy, not the HTTP client
	if timeout > 0 {
		client.SetTimeout(time.Duration(timeout) * time.Second)
	}

	return &HTTPProvider{client: client, endpoint: endpoint, apiKey: apiKey}
}

func (h *HTTPProvider) Name() string { return "http" }

func (h *HTTPProvider) Ready() bool { return h.endpoint != "" }

func (h *HTTPProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	pcm := encodePCM16(samples)

	var result httpTranscribeResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetQueryParam("sample_rate", fmt.Sprintf("%d", sampleRate)).
		SetQueryParam("language", opts.Language).
		SetQueryParam("prompt", opts.PreviousContext).
		SetBody(pcm).
		SetResult(&result).
		Post("/transcribe")
	if err != nil {
		return nil, fmt.Errorf("asr request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("asr endpoint returned status %d: %s", resp.StatusCode(), resp.String())
	}

	words := make([]WordTiming, 0, len(result.Words))
	for _, w := range result.Words {
		words = append(words, WordTiming{
			Word:       w.Word,
			Start:      msToDuration(w.StartMS),
			End:        msToDuration(w.EndMS),
			Confidence: w.Confidence,
		})
	}

	return &Result{
		Text:       result.Text,
		Confidence: result.Confidence,
		Language:   result.Language,
		Words:      words,
	}, nil
}

func (h *HTTPProvider) Close() error { return nil }

func encodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
