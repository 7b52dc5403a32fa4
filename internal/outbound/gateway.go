package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// GatewaySender delivers messages through an HTTP JSON gateway. Status codes
// map onto the send-error taxonomy: 429 is rate limited, 404/410 means the
// recipient is unreachable, 4xx rejects the content, everything else is
// treated as a timeout-class transient failure.
type GatewaySender struct {
	url    string
	token  string
	client *http.Client
	logger *zap.Logger
}

func NewGatewaySender(url, token string, logger *zap.Logger) *GatewaySender {
	return &GatewaySender{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type gatewayRequest struct {
	RecipientID int    `json:"recipient_id"`
	Text        string `json:"text"`
}

func (s *GatewaySender) Send(ctx context.Context, recipientID int, text string) error {
	body, err := json.Marshal(gatewayRequest{RecipientID: recipientID, Text: text})
	if err != nil {
		return &SendError{Code: CodeContentRejected, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &SendError{Code: CodeContentRejected, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// Connection errors and client timeouts retry.
		return &SendError{Code: CodeTimeout, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &SendError{Code: CodeRateLimited, Message: resp.Status}
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &SendError{Code: CodeRecipientUnreachable, Message: resp.Status}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &SendError{Code: CodeContentRejected, Message: resp.Status}
	default:
		s.logger.Warn("gateway returned server error",
			zap.Int("status", resp.StatusCode),
			zap.Int("recipient_id", recipientID),
		)
		return &SendError{Code: CodeTimeout, Message: fmt.Sprintf("gateway status %d", resp.StatusCode)}
	}
}
