package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clubcast/clubcast-go/contracts"
	"github.com/clubcast/clubcast-go/fanout"
)

const defaultChunkSize = 100

// Sender delivers notifications through an Expo-style push gateway: one
// POST per chunk of tokens, one ticket per token in the response. A failing
// chunk yields failed tickets for its tokens and the remaining chunks are
// still attempted; the batch never short-circuits.
type Sender struct {
	endpoint   string
	authToken  string
	client     *http.Client
	chunkSize  int
	logger     *slog.Logger
}

var _ fanout.PushDelivery = (*Sender)(nil)

// SenderOption configures the sender.
type SenderOption func(*Sender)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) SenderOption {
	return func(s *Sender) {
		s.client = client
	}
}

// WithAuthToken sets the bearer token sent to the gateway.
func WithAuthToken(token string) SenderOption {
	return func(s *Sender) {
		s.authToken = token
	}
}

// WithChunkSize caps how many tokens go into one gateway request.
func WithChunkSize(size int) SenderOption {
	return func(s *Sender) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithSenderLogger sets the logger.
func WithSenderLogger(logger *slog.Logger) SenderOption {
	return func(s *Sender) {
		s.logger = logger
	}
}

// NewSender creates a sender for the given gateway endpoint.
func NewSender(endpoint string, options ...SenderOption) *Sender {
	s := &Sender{
		endpoint:  endpoint,
		client:    &http.Client{Timeout: 15 * time.Second},
		chunkSize: defaultChunkSize,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// pushMessage is one gateway request entry.
type pushMessage struct {
	To    []string               `json:"to"`
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
	Sound string                 `json:"sound"`
}

// ticketResponse mirrors the gateway's per-token result.
type ticketResponse struct {
	Data []struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
}

// Send pushes to every token, chunked. The returned tickets are positional:
// one per input token, in order. The error return is reserved for misuse
// (no endpoint); transport failures surface as failed tickets instead so a
// partially reachable gateway still delivers what it can.
func (s *Sender) Send(ctx context.Context, tokens []string, title, body string, data map[string]interface{}) ([]contracts.DeliveryTicket, error) {
	if s.endpoint == "" {
		return nil, fmt.Errorf("push sender has no endpoint configured")
	}

	tickets := make([]contracts.DeliveryTicket, 0, len(tokens))
	for start := 0; start < len(tokens); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]

		chunkTickets, err := s.sendChunk(ctx, chunk, title, body, data)
		if err != nil {
			s.logger.Error("push chunk failed",
				"tokens", len(chunk),
				"error", err,
			)
			for _, token := range chunk {
				tickets = append(tickets, contracts.DeliveryTicket{
					Token:  token,
					Status: contracts.DeliveryFailed,
					Detail: err.Error(),
				})
			}
			continue
		}
		tickets = append(tickets, chunkTickets...)
	}

	return tickets, nil
}

func (s *Sender) sendChunk(ctx context.Context, tokens []string, title, body string, data map[string]interface{}) ([]contracts.DeliveryTicket, error) {
	payload, err := json.Marshal(pushMessage{
		To:    tokens,
		Title: title,
		Body:  body,
		Data:  data,
		Sound: "default",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var parsed ticketResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}

	tickets := make([]contracts.DeliveryTicket, len(tokens))
	for i, token := range tokens {
		tickets[i] = contracts.DeliveryTicket{Token: token, Status: contracts.DeliverySuccess}
		if i < len(parsed.Data) && parsed.Data[i].Status != "ok" {
			tickets[i].Status = contracts.DeliveryFailed
			tickets[i].Detail = parsed.Data[i].Message
		}
	}

	return tickets, nil
}
