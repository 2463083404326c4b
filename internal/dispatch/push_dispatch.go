package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/pmv-rental/internal/models"
)

// Publisher is implemented by every journey event sink.
type Publisher interface {
	Publish(ctx context.Context, ev models.JourneyEvent) error
}

// PushDispatcher notifies riders over their websocket when connected and
// falls back to posting the event to a webhook endpoint.
type PushDispatcher struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushDispatcher(endpoint string, ws *WSRegistry) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushDispatcher) Publish(ctx context.Context, ev models.JourneyEvent) error {
	if p.WS != nil {
		err := p.WS.Publish(ctx, ev)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNoSession) {
			return err
		}
	}
	if p.Endpoint == "" {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", p.Endpoint, resp.StatusCode)
	}
	return nil
}
