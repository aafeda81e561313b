package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultFCMEndpoint is the base URL of the FCM HTTP v1 API.
const DefaultFCMEndpoint = "https://fcm.googleapis.com"

// maxResponseBytes bounds how much of a provider response is retained.
const maxResponseBytes = 64 << 10

// FCMProvider sends notifications via the Firebase Cloud Messaging HTTP v1 API.
type FCMProvider struct {
	sendURL string
	client  *http.Client
	logger  *slog.Logger
	timeout time.Duration
}

func NewFCMProvider(endpoint, projectID string, timeout time.Duration, logger *slog.Logger) *FCMProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if endpoint == "" {
		endpoint = DefaultFCMEndpoint
	}
	return &FCMProvider{
		sendURL: fmt.Sprintf("%s/v1/projects/%s/messages:send",
			strings.TrimRight(endpoint, "/"),
			url.PathEscape(projectID),
		),
		client: &http.Client{
			Timeout: timeout,
		},
		logger:  logger,
		timeout: timeout,
	}
}

func (p *FCMProvider) Name() string {
	return "fcm"
}

func (p *FCMProvider) Send(ctx context.Context, accessToken, address string, payload *PushPayload) (*SendResult, error) {
	if address == "" {
		return nil, fmt.Errorf("fcm: empty token")
	}

	body, err := json.Marshal(fcmRequest{
		Message: fcmMessage{
			Token: address,
			Notification: fcmNotification{
				Title: payload.Title,
				Body:  payload.Body,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sendURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("fcm: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		perr := parseProviderError(resp.StatusCode, raw)
		p.logger.Debug("fcm rejected message",
			slog.Int("status", resp.StatusCode),
			slog.String("error_code", perr.ErrorCode),
		)
		return &SendResult{Raw: raw}, perr
	}

	var ack fcmResponse
	if err := json.Unmarshal(raw, &ack); err != nil {
		return &SendResult{Raw: raw}, fmt.Errorf("fcm: decode response: %w", err)
	}
	return &SendResult{MessageID: ack.Name, Raw: raw}, nil
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string          `json:"token"`
	Notification fcmNotification `json:"notification"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResponse struct {
	Name string `json:"name"`
}

type fcmErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// ProviderError is a structured rejection from the push provider.
type ProviderError struct {
	HTTPStatus int
	Status     string
	ErrorCode  string
	Message    string
}

func (e *ProviderError) Error() string {
	code := e.ErrorCode
	if code == "" {
		code = e.Status
	}
	if code == "" {
		return fmt.Sprintf("fcm: received status %d", e.HTTPStatus)
	}
	return fmt.Sprintf("fcm: received status %d (%s)", e.HTTPStatus, code)
}

// Code returns the most specific error code the provider supplied.
func (e *ProviderError) Code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	return e.Status
}

func parseProviderError(status int, raw []byte) *ProviderError {
	perr := &ProviderError{HTTPStatus: status}
	var body fcmErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return perr
	}
	perr.Status = body.Error.Status
	perr.Message = body.Error.Message
	for _, d := range body.Error.Details {
		if d.ErrorCode != "" {
			perr.ErrorCode = d.ErrorCode
			break
		}
	}
	return perr
}

// isTokenFatal reports provider codes meaning the address will never work again.
func isTokenFatal(code string) bool {
	switch code {
	case "UNREGISTERED", "SENDER_ID_MISMATCH":
		return true
	default:
		return false
	}
}
