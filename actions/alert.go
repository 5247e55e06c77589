// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
)

var validate = validator.New()

// AlertChannel names a delivery channel for alerts
type AlertChannel string

const (
	ChannelEmail   AlertChannel = "email"
	ChannelSlack   AlertChannel = "slack"
	ChannelSMS     AlertChannel = "sms"
	ChannelInApp   AlertChannel = "in_app"
	ChannelWebhook AlertChannel = "webhook"
)

// priorityColors maps alert priority to Slack attachment colors
var priorityColors = map[string]string{
	"critical": "#ff0000",
	"high":     "#ff6600",
	"medium":   "#ffcc00",
	"low":      "#00cc00",
}

// SMTPConfig holds outbound email settings
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// AlertConfig configures the alert handler's channels
type AlertConfig struct {
	SMTP            SMTPConfig `yaml:"smtp"`
	SlackWebhookURL string     `yaml:"slack_webhook_url"`
	DefaultEmail    string     `yaml:"default_email"`
}

// HTTPDoer is the HTTP client surface handlers depend on
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// sendMailFunc matches smtp.SendMail, swapped in tests
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// AlertHandler delivers notifications over the configured channels
type AlertHandler struct {
	cfg      AlertConfig
	client   HTTPDoer
	db       *sql.DB
	sendMail sendMailFunc
	log      *logger.Logger
	now      func() time.Time
}

// NewAlertHandler creates the alert handler. db may be nil, which disables
// the in_app channel.
func NewAlertHandler(cfg AlertConfig, client HTTPDoer, db *sql.DB) *AlertHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &AlertHandler{
		cfg:      cfg,
		client:   client,
		db:       db,
		sendMail: smtp.SendMail,
		log:      logger.New("alert-handler"),
		now:      time.Now,
	}
}

func (h *AlertHandler) Type() Type { return TypeAlert }

type alertParams struct {
	Channel    string `validate:"omitempty,oneof=email slack sms in_app webhook"`
	Message    string `validate:"required"`
	Priority   string `validate:"omitempty,oneof=low medium high critical"`
	Subject    string
	Recipient  string
	Phone      string
	Title      string
	UserID     string
	WebhookURL string `validate:"omitempty,url"`
}

func parseAlertParams(params map[string]interface{}) (*alertParams, error) {
	p := &alertParams{Channel: "email", Priority: "medium"}

	if v, ok := StringParam(params, "channel"); ok {
		p.Channel = v
	}
	p.Message, _ = StringParam(params, "message")
	if v, ok := StringParam(params, "priority"); ok {
		p.Priority = v
	}
	p.Subject, _ = StringParam(params, "subject")
	p.Recipient, _ = StringParam(params, "recipient")
	p.Phone, _ = StringParam(params, "phone_number")
	p.Title, _ = StringParam(params, "title")
	p.UserID, _ = StringParam(params, "user_id")
	p.WebhookURL, _ = StringParam(params, "webhook_url")

	if err := validate.Struct(p); err != nil {
		return nil, &ConfigError{Scope: "alert", Field: "parameters", Msg: err.Error()}
	}
	return p, nil
}

// Execute sends one alert and returns delivery metadata
func (h *AlertHandler) Execute(ctx context.Context, params, actionCtx map[string]interface{}) (map[string]interface{}, error) {
	p, err := parseAlertParams(params)
	if err != nil {
		return nil, err
	}

	message := h.formatMessage(p.Message, actionCtx)

	var messageID string
	var extra map[string]interface{}
	switch AlertChannel(p.Channel) {
	case ChannelEmail:
		messageID, err = h.sendEmail(p, message)
	case ChannelSlack:
		messageID, err = h.sendSlack(ctx, message, p.Priority)
	case ChannelSMS:
		messageID, err = h.sendSMS(p, message)
	case ChannelInApp:
		messageID, extra, err = h.sendInApp(ctx, p, message)
	case ChannelWebhook:
		messageID, err = h.sendWebhook(ctx, p, params, message)
	default:
		err = &ConfigError{Scope: "alert", Field: "channel", Msg: fmt.Sprintf("unsupported channel %q", p.Channel)}
	}
	if err != nil {
		h.log.Error(p.UserID, "", "alert delivery failed", map[string]interface{}{
			"channel": p.Channel,
			"error":   err.Error(),
		})
		return nil, err
	}

	h.log.Info(p.UserID, "", "alert sent", map[string]interface{}{"channel": p.Channel})

	result := map[string]interface{}{
		"status":     "success",
		"channel":    p.Channel,
		"message_id": messageID,
		"timestamp":  h.now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		result[k] = v
	}
	return result, nil
}

// formatMessage substitutes {key} placeholders from the action context and
// appends a generation timestamp. Nested values render as indented JSON.
func (h *AlertHandler) formatMessage(template string, actionCtx map[string]interface{}) string {
	formatted := template
	for key, value := range actionCtx {
		placeholder := "{" + key + "}"
		if !strings.Contains(formatted, placeholder) {
			continue
		}
		rendered := fmt.Sprint(value)
		if _, ok := value.(map[string]interface{}); ok {
			if data, err := json.MarshalIndent(value, "", "  "); err == nil {
				rendered = string(data)
			}
		}
		formatted = strings.ReplaceAll(formatted, placeholder, rendered)
	}
	return formatted + "\n\nGenerated: " + h.now().UTC().Format("2006-01-02 15:04:05 UTC")
}

func (h *AlertHandler) sendEmail(p *alertParams, message string) (string, error) {
	if h.cfg.SMTP.Username == "" || h.cfg.SMTP.Password == "" {
		return "", &ConfigError{Scope: "alert", Field: "smtp", Msg: "SMTP credentials not configured"}
	}

	recipient := p.Recipient
	if recipient == "" {
		recipient = h.cfg.DefaultEmail
	}
	if recipient == "" {
		return "", &ConfigError{Scope: "alert", Field: "recipient", Msg: "no recipient and no default email configured"}
	}

	subject := p.Subject
	if subject == "" {
		subject = "Live Data RAG Alert"
	}
	from := h.cfg.SMTP.From
	if from == "" {
		from = h.cfg.SMTP.Username
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: [%s] %s\r\n", strings.ToUpper(p.Priority), subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(message)

	addr := fmt.Sprintf("%s:%d", h.cfg.SMTP.Host, h.cfg.SMTP.Port)
	auth := smtp.PlainAuth("", h.cfg.SMTP.Username, h.cfg.SMTP.Password, h.cfg.SMTP.Host)
	if err := h.sendMail(addr, auth, from, []string{recipient}, msg.Bytes()); err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	return fmt.Sprintf("email_%d", h.now().UnixNano()), nil
}

func (h *AlertHandler) sendSlack(ctx context.Context, message, priority string) (string, error) {
	if h.cfg.SlackWebhookURL == "" {
		return "", &ConfigError{Scope: "alert", Field: "slack_webhook_url", Msg: "Slack webhook URL not configured"}
	}

	color, ok := priorityColors[priority]
	if !ok {
		color = "#cccccc"
	}
	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{{
			"color": color,
			"title": "Live Data RAG Alert",
			"text":  message,
			"fields": []map[string]interface{}{
				{"title": "Priority", "value": strings.ToUpper(priority), "short": true},
				{"title": "Time", "value": h.now().UTC().Format("2006-01-02 15:04:05 UTC"), "short": true},
			},
			"footer": "Live Data RAG System",
			"ts":     h.now().Unix(),
		}},
	}

	if err := h.postJSON(ctx, h.cfg.SlackWebhookURL, payload, nil); err != nil {
		return "", fmt.Errorf("failed to post to Slack: %w", err)
	}
	return fmt.Sprintf("slack_%d", h.now().UnixNano()), nil
}

// sendSMS records the delivery without a provider binding
func (h *AlertHandler) sendSMS(p *alertParams, message string) (string, error) {
	if p.Phone == "" {
		return "", &ConfigError{Scope: "alert", Field: "phone_number", Msg: "phone number required for SMS alert"}
	}

	preview := message
	if len(preview) > 50 {
		preview = preview[:50]
	}
	h.log.Info(p.UserID, "", "sms alert queued", map[string]interface{}{
		"recipient": p.Phone,
		"preview":   preview,
	})
	return fmt.Sprintf("sms_%d", h.now().UnixNano()), nil
}

func (h *AlertHandler) sendInApp(ctx context.Context, p *alertParams, message string) (string, map[string]interface{}, error) {
	if h.db == nil {
		return "", nil, &ConfigError{Scope: "alert", Field: "in_app", Msg: "in_app channel requires a database"}
	}

	userID := p.UserID
	if userID == "" {
		userID = "system"
	}
	title := p.Title
	if title == "" {
		title = "System Alert"
	}

	id := uuid.NewString()
	createdAt := h.now().UTC()
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, priority, category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, userID, title, message, p.Priority, "system_alert", createdAt)
	if err != nil {
		return "", nil, fmt.Errorf("failed to store notification: %w", err)
	}

	return id, map[string]interface{}{
		"notification": map[string]interface{}{
			"id":         id,
			"user_id":    userID,
			"title":      title,
			"priority":   p.Priority,
			"created_at": createdAt.Format(time.RFC3339),
		},
	}, nil
}

func (h *AlertHandler) sendWebhook(ctx context.Context, p *alertParams, params map[string]interface{}, message string) (string, error) {
	if p.WebhookURL == "" {
		return "", &ConfigError{Scope: "alert", Field: "webhook_url", Msg: "webhook URL required"}
	}

	payload := map[string]interface{}{
		"event":     "rag_alert",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"data": map[string]interface{}{
			"message":    message,
			"priority":   p.Priority,
			"parameters": params,
		},
	}

	var headers map[string]string
	if raw, ok := params["headers"].(map[string]interface{}); ok {
		headers = make(map[string]string, len(raw))
		for k, v := range raw {
			headers[k] = fmt.Sprint(v)
		}
	}

	if err := h.postJSON(ctx, p.WebhookURL, payload, headers); err != nil {
		return "", fmt.Errorf("failed to post to webhook: %w", err)
	}
	return fmt.Sprintf("webhook_%d", h.now().UnixNano()), nil
}

func (h *AlertHandler) postJSON(ctx context.Context, url string, payload interface{}, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
