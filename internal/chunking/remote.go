package chunking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteTimeout bounds one call to a custom chunking endpoint.
const RemoteTimeout = 60 * time.Second

// RemoteChunker delegates splitting to a user-supplied HTTP endpoint. The
// endpoint receives {text, chunkSize, chunkOverlap} and must return
// {chunks: [{text, vectorSource?, metadata?}]}.
type RemoteChunker struct {
	client *http.Client
}

// NewRemoteChunker builds a remote splitter. client may be nil.
func NewRemoteChunker(client *http.Client) *RemoteChunker {
	if client == nil {
		client = &http.Client{Timeout: RemoteTimeout}
	}
	return &RemoteChunker{client: client}
}

type remoteRequest struct {
	Text         string `json:"text"`
	ChunkSize    int    `json:"chunkSize"`
	ChunkOverlap int    `json:"chunkOverlap"`
}

type remoteChunk struct {
	Text         string         `json:"text"`
	VectorSource string         `json:"vectorSource,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type remoteResponse struct {
	Chunks []remoteChunk `json:"chunks"`
}

// Chunk posts text to p.ChunkingURL and maps the response into pieces.
func (r *RemoteChunker) Chunk(ctx context.Context, text string, p Params) ([]Piece, error) {
	if p.ChunkingURL == "" {
		return nil, fmt.Errorf("custom strategy requires a chunking url")
	}
	payload, err := json.Marshal(remoteRequest{Text: text, ChunkSize: p.ChunkSize, ChunkOverlap: p.ChunkOverlap})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.ChunkingURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("custom chunker: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("custom chunker status %d: %s", resp.StatusCode, body)
	}
	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode custom chunker response: %w", err)
	}
	out := make([]Piece, 0, len(decoded.Chunks))
	for _, c := range decoded.Chunks {
		if c.Text == "" {
			continue
		}
		out = append(out, Piece{Text: c.Text, VectorSource: c.VectorSource, Metadata: c.Metadata})
	}
	return out, nil
}

// Probe checks that a chunking endpoint answers a minimal request. Used at
// collection create and update time to reject dead URLs early.
func (r *RemoteChunker) Probe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := r.Chunk(ctx, "health probe", Params{ChunkingURL: url, ChunkSize: 200})
	if err != nil {
		return fmt.Errorf("chunking url probe failed: %w", err)
	}
	return nil
}
