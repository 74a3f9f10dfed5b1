package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krishvatech/pds-netra-sub000/internal/config"
)

// Provider delivers a rendered message over one channel and returns the
// provider-side message id used by inbound status callbacks.
type Provider interface {
	SendWhatsApp(ctx context.Context, target, message string, mediaURL *string) (string, error)
	SendEmail(ctx context.Context, target, subject, message string, attachmentPath *string) (string, error)
	SendCall(ctx context.Context, target, message string) (string, error)
}

// NewProvider selects the configured provider implementation.
func NewProvider(cfg *config.Config, logger *zap.Logger) (Provider, error) {
	switch cfg.Notify.Provider {
	case "console":
		return NewConsoleProvider(logger), nil
	case "http":
		return NewHTTPProvider(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown notify provider: %s", cfg.Notify.Provider)
}

// ConsoleProvider logs deliveries instead of sending them. Default for local
// development.
type ConsoleProvider struct {
	logger *zap.Logger
}

func NewConsoleProvider(logger *zap.Logger) *ConsoleProvider {
	return &ConsoleProvider{logger: logger}
}

func (p *ConsoleProvider) SendWhatsApp(ctx context.Context, target, message string, mediaURL *string) (string, error) {
	p.logger.Info("WhatsApp message",
		zap.String("target", target),
		zap.String("message", message),
	)
	return "console-" + uuid.New().String(), nil
}

func (p *ConsoleProvider) SendEmail(ctx context.Context, target, subject, message string, attachmentPath *string) (string, error) {
	p.logger.Info("Email message",
		zap.String("target", target),
		zap.String("subject", subject),
	)
	return "console-" + uuid.New().String(), nil
}

func (p *ConsoleProvider) SendCall(ctx context.Context, target, message string) (string, error) {
	p.logger.Info("Voice call",
		zap.String("target", target),
		zap.String("message", message),
	)
	return "console-" + uuid.New().String(), nil
}

// HTTPProvider posts messages to per-channel gateway endpoints.
type HTTPProvider struct {
	client      *resty.Client
	whatsappURL string
	emailURL    string
	callURL     string
	logger      *zap.Logger
}

func NewHTTPProvider(cfg *config.Config, logger *zap.Logger) *HTTPProvider {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(0)
	if cfg.Notify.WhatsAppToken != "" {
		client.SetAuthToken(cfg.Notify.WhatsAppToken)
	}

	return &HTTPProvider{
		client:      client,
		whatsappURL: cfg.Notify.WhatsAppURL,
		emailURL:    cfg.Notify.EmailURL,
		callURL:     cfg.Notify.CallURL,
		logger:      logger,
	}
}

type gatewayResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

func (p *HTTPProvider) post(ctx context.Context, url string, body map[string]interface{}) (string, error) {
	if url == "" {
		return "", fmt.Errorf("gateway url is not configured")
	}

	var out gatewayResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(url)
	if err != nil {
		return "", fmt.Errorf("gateway request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("gateway returned %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Error != "" {
		return "", fmt.Errorf("gateway rejected message: %s", out.Error)
	}

	return out.MessageID, nil
}

func (p *HTTPProvider) SendWhatsApp(ctx context.Context, target, message string, mediaURL *string) (string, error) {
	body := map[string]interface{}{
		"to":      target,
		"message": message,
	}
	if mediaURL != nil {
		body["media_url"] = *mediaURL
	}
	return p.post(ctx, p.whatsappURL, body)
}

func (p *HTTPProvider) SendEmail(ctx context.Context, target, subject, message string, attachmentPath *string) (string, error) {
	body := map[string]interface{}{
		"to":      target,
		"subject": subject,
		"body":    message,
	}
	if attachmentPath != nil {
		body["attachment"] = *attachmentPath
	}
	return p.post(ctx, p.emailURL, body)
}

func (p *HTTPProvider) SendCall(ctx context.Context, target, message string) (string, error) {
	body := map[string]interface{}{
		"to":     target,
		"script": message,
	}
	return p.post(ctx, p.callURL, body)
}
