package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// StreamChunk is one piece of streamed completion text.
type StreamChunk struct {
	Text string
	Err  error
}

// ChatStream streams a completion as text chunks. Stop words are enforced
// client-side across chunk boundaries; the channel closes after the final
// chunk (or after a chunk carrying Err).
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("LLM client not configured")
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 300
	}
	body, err := json.Marshal(apiRequest{
		Model:     c.cfg.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  req.Messages,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.chatHeaders() {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API call: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("API error %d", resp.StatusCode)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		filter := NewStopWordFilter(req.Stop)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event struct {
				Type  string `json:"type"`
				Delta struct {
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(line[len("data: "):]), &event); err != nil {
				continue
			}
			if event.Type != "content_block_delta" {
				continue
			}
			text, stopped := filter.Feed(event.Delta.Text)
			if text != "" {
				select {
				case out <- StreamChunk{Text: text}:
				case <-ctx.Done():
					return
				}
			}
			if stopped {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: fmt.Errorf("read stream: %w", err)}
			return
		}
		if tail := filter.Flush(); tail != "" {
			out <- StreamChunk{Text: tail}
		}
	}()
	return out, nil
}

// StopWordFilter truncates a text stream at the first occurrence of any
// stop word, even when the stop word straddles chunk boundaries. It does
// so by holding back any trailing text that could be the start of a stop
// word until the next chunk resolves it.
type StopWordFilter struct {
	stops   []string
	pending string
	stopped bool
}

// NewStopWordFilter creates a filter for the given stop words.
func NewStopWordFilter(stops []string) *StopWordFilter {
	return &StopWordFilter{stops: stops}
}

// Feed consumes a chunk and returns the text safe to emit, plus whether a
// stop word was hit (everything from the stop word on is discarded).
func (f *StopWordFilter) Feed(chunk string) (string, bool) {
	if f.stopped {
		return "", true
	}
	f.pending += chunk

	cut := -1
	for _, stop := range f.stops {
		if stop == "" {
			continue
		}
		if i := strings.Index(f.pending, stop); i >= 0 && (cut == -1 || i < cut) {
			cut = i
		}
	}
	if cut >= 0 {
		out := f.pending[:cut]
		f.pending = ""
		f.stopped = true
		return out, true
	}

	// Hold back the longest tail that is a prefix of some stop word.
	hold := 0
	for _, stop := range f.stops {
		for n := min(len(stop)-1, len(f.pending)); n > hold; n-- {
			if strings.HasSuffix(f.pending, stop[:n]) {
				hold = n
				break
			}
		}
	}
	out := f.pending[:len(f.pending)-hold]
	f.pending = f.pending[len(f.pending)-hold:]
	return out, false
}

// Flush returns any held-back text once the stream ends cleanly.
func (f *StopWordFilter) Flush() string {
	if f.stopped {
		return ""
	}
	out := f.pending
	f.pending = ""
	return out
}
