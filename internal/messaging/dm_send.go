package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/haulops-crm/pkg/logging"
)

const defaultGraphAPIBase = "https://graph.facebook.com/v18.0"

// DM is one outbound social direct message. To is the platform-scoped
// recipient id captured from the inbound message.
type DM struct {
	To   string
	Body string
}

// DMSender delivers direct messages and returns the provider message id.
type DMSender interface {
	SendDM(ctx context.Context, msg DM) (string, error)
}

// GraphDMSender sends direct messages through the Meta Graph API.
type GraphDMSender struct {
	pageAccessToken string
	graphAPIBase    string
	httpClient      *http.Client
	logger          *logging.Logger
}

// NewGraphDMSender returns nil when no page token is configured.
func NewGraphDMSender(pageAccessToken string, logger *logging.Logger) *GraphDMSender {
	if strings.TrimSpace(pageAccessToken) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GraphDMSender{
		pageAccessToken: pageAccessToken,
		graphAPIBase:    defaultGraphAPIBase,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		logger:          logger,
	}
}

// WithGraphAPIBase overrides the Graph API base URL.
func (s *GraphDMSender) WithGraphAPIBase(base string) *GraphDMSender {
	if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
		s.graphAPIBase = base
	}
	return s
}

type graphSendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	MessagingType string `json:"messaging_type"`
}

type graphSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
	Error       *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// SendDM posts a plain-text reply to the recipient.
func (s *GraphDMSender) SendDM(ctx context.Context, msg DM) (string, error) {
	if msg.To == "" {
		return "", errors.New("messaging: dm recipient required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return "", errors.New("messaging: dm body required")
	}

	var req graphSendRequest
	req.Recipient.ID = msg.To
	req.Message.Text = msg.Body
	req.MessagingType = "RESPONSE"
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("messaging: marshal dm: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.graphAPIBase+"/me/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("messaging: create dm request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.pageAccessToken)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("messaging: send dm: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("messaging: read dm response: %w", err)
	}
	var out graphSendResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("messaging: decode dm response (status %d): %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("messaging: graph api error %d: %s", out.Error.Code, out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("messaging: graph api status %d", resp.StatusCode)
	}
	s.logger.Debug("dm sent", "message_id", out.MessageID)
	return out.MessageID, nil
}

var _ DMSender = (*GraphDMSender)(nil)
