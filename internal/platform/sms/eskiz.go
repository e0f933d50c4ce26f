package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	eskizTokenLifetime = 24 * time.Hour
	eskizDefaultSender = "4546"
)

var errUnauthorized = errors.New("sms: gateway rejected token")

// EskizConfig configures the Eskiz gateway client.
type EskizConfig struct {
	BaseURL  string
	Email    string
	Password string
	SenderID string
}

// EskizSender delivers SMS through the Eskiz HTTP gateway. It logs in lazily
// and refreshes the bearer token once when the gateway answers 401.
type EskizSender struct {
	cfg    EskizConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewEskizSender constructs an EskizSender.
func NewEskizSender(cfg EskizConfig, client *http.Client, logger *zap.Logger) (*EskizSender, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" || cfg.Email == "" || cfg.Password == "" {
		return nil, errors.New("sms: eskiz base url and credentials are required")
	}
	if cfg.SenderID == "" {
		cfg.SenderID = eskizDefaultSender
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EskizSender{cfg: cfg, client: client, logger: logger.Named("sms.eskiz"), now: time.Now}, nil
}

// Provider implements Sender.
func (e *EskizSender) Provider() string { return "eskiz" }

// Send delivers message to phone.
func (e *EskizSender) Send(ctx context.Context, phone, message string) error {
	token, err := e.currentToken(ctx, false)
	if err != nil {
		return err
	}
	err = e.send(ctx, token, NormalisePhone(phone), message)
	if !errors.Is(err, errUnauthorized) {
		return err
	}
	e.logger.Info("eskiz token rejected; logging in again")
	if token, err = e.currentToken(ctx, true); err != nil {
		return err
	}
	return e.send(ctx, token, NormalisePhone(phone), message)
}

func (e *EskizSender) currentToken(ctx context.Context, force bool) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !force && e.token != "" && e.now().Before(e.tokenExp) {
		return e.token, nil
	}

	body, contentType, err := formBody(map[string]string{"email": e.cfg.Email, "password": e.cfg.Password})
	if err != nil {
		return "", err
	}
	var resp struct {
		Message string `json:"message"`
		Data    struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := e.do(ctx, "/auth/login", "", body, contentType, &resp); err != nil {
		return "", fmt.Errorf("sms: eskiz login: %w", err)
	}
	if resp.Data.Token == "" {
		return "", fmt.Errorf("sms: eskiz login returned no token: %s", resp.Message)
	}
	e.token = resp.Data.Token
	e.tokenExp = e.now().Add(eskizTokenLifetime)
	return e.token, nil
}

func (e *EskizSender) send(ctx context.Context, token, phone, message string) error {
	body, contentType, err := formBody(map[string]string{
		"mobile_phone": phone,
		"message":      message,
		"from":         e.cfg.SenderID,
	})
	if err != nil {
		return err
	}
	var resp struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := e.do(ctx, "/message/sms/send", token, body, contentType, &resp); err != nil {
		return err
	}
	if resp.Status == "error" {
		return fmt.Errorf("sms: eskiz rejected message: %s", resp.Message)
	}
	return nil
}

func (e *EskizSender) do(ctx context.Context, path, token string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: eskiz request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("sms: read eskiz response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sms: eskiz status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		e.logger.Warn("eskiz response not json", zap.Error(err))
	}
	return nil
}

func formBody(fields map[string]string) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
