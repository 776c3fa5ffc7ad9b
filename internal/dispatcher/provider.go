package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linguaflow/followup-engine/internal/model"
)

// OutboundMessage is what a channel provider sends.
type OutboundMessage struct {
	Destination string `json:"destination"` // phone or email, per channel
	Subject     string `json:"subject,omitempty"`
	Content     string `json:"content"`
}

// Provider is the narrow send capability the engine consumes; real
// integrations live behind HTTP gateways configured per channel.
type Provider interface {
	Name() string
	Channel() model.Channel
	Ready() bool
	Acquire() bool
	// Send delivers the message and returns the provider's message id.
	Send(ctx context.Context, msg OutboundMessage) (string, error)
}

type HTTPProvider struct {
	name     string
	channel  model.Channel
	baseURL  string
	sendPath string
	client   *http.Client
	br       *Breaker
}

func NewHTTPProvider(
	name string, channel model.Channel,
	baseURL, sendPath string,
	timeoutMs, failThreshold, openForMs int,
) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}

	if failThreshold <= 0 {
		failThreshold = 3
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPProvider{
		name:     name,
		channel:  channel,
		baseURL:  baseURL,
		sendPath: sendPath,
		client:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:       NewBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (p *HTTPProvider) Name() string           { return p.name }
func (p *HTTPProvider) Channel() model.Channel { return p.channel }
func (p *HTTPProvider) Ready() bool            { return p.br.Ready() }
func (p *HTTPProvider) Acquire() bool          { return p.br.TryAcquire() }

func (p *HTTPProvider) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	id, err := p.post(ctx, msg)
	if err != nil {
		p.br.OnFailure()
		return "", err
	}

	p.br.OnSuccess()

	return id, nil
}

func (p *HTTPProvider) post(ctx context.Context, msg OutboundMessage) (string, error) {
	b, _ := json.Marshal(msg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.sendPath, bytes.NewReader(b))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return "", err
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return "", fmt.Errorf("provider=%s channel=%s status=%d", p.name, p.channel, res.StatusCode)
	}

	// gateways answer {"id": "<provider message id>"}
	var out struct {
		ID string `json:"id"`
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		// some gateways answer 202 with an empty body; not an error
		return "", nil
	}

	return out.ID, nil
}
