// Package greenapi é o cliente HTTP do gateway WhatsApp Green API.
package greenapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/metrics"
	"github.com/open-apime/autoreply/internal/storage/model"
)

const (
	DefaultAPIURL  = "https://api.green-api.com"
	defaultTimeout = 20 * time.Second
	maxErrorBody   = 512
)

var ErrMalformedResponse = errors.New("greenapi: resposta inválida")

// Credentials identifica a instância no provedor.
type Credentials struct {
	APIURL     string
	IDInstance string
	APIToken   string
}

// ProviderError descreve uma resposta de erro do provedor ou uma falha de
// transporte. Retryable é true para 429, 5xx e falhas de rede.
type ProviderError struct {
	Operation  string
	StatusCode int
	Body       string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("greenapi: %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("greenapi: %s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable informa se err é uma falha transitória do provedor.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

type SendMessageResponse struct {
	IDMessage string `json:"idMessage"`
}

type stateResponse struct {
	StateInstance string `json:"stateInstance"`
}

type Client struct {
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewClient(log *zap.Logger, m *metrics.Metrics, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		log:     log,
		metrics: m,
	}
}

// SendMessage envia uma mensagem de texto para chatID.
func (c *Client) SendMessage(ctx context.Context, creds Credentials, chatID, message string) (SendMessageResponse, error) {
	payload, err := json.Marshal(map[string]string{
		"chatId":  chatID,
		"message": message,
	})
	if err != nil {
		return SendMessageResponse{}, fmt.Errorf("greenapi: marshal: %w", err)
	}

	var out SendMessageResponse
	if err := c.do(ctx, http.MethodPost, "sendMessage", creds, payload, &out); err != nil {
		return SendMessageResponse{}, err
	}
	if out.IDMessage == "" {
		c.metrics.ProviderRequest("sendMessage", "malformed")
		return SendMessageResponse{}, &ProviderError{Operation: "sendMessage", StatusCode: http.StatusOK, Err: ErrMalformedResponse, Body: "idMessage ausente"}
	}
	return out, nil
}

// GetStateInstance consulta o estado de autorização da instância.
func (c *Client) GetStateInstance(ctx context.Context, creds Credentials) (model.AuthState, error) {
	var out stateResponse
	if err := c.do(ctx, http.MethodGet, "getStateInstance", creds, nil, &out); err != nil {
		return "", err
	}
	if out.StateInstance == "" {
		return "", &ProviderError{Operation: "getStateInstance", StatusCode: http.StatusOK, Err: ErrMalformedResponse, Body: "stateInstance ausente"}
	}
	return ParseState(out.StateInstance), nil
}

func (c *Client) do(ctx context.Context, method, operation string, creds Credentials, body []byte, out any) error {
	url := endpoint(creds, operation)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("greenapi: new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "AutoReply/1.0")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.metrics.ProviderRequest(operation, "network")
		return &ProviderError{Operation: operation, Retryable: isTransient(err), Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug("greenapi: resposta",
		zap.String("operation", operation),
		zap.String("instance_id", creds.IDInstance),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.metrics.ProviderRequest(operation, fmt.Sprintf("%dxx", resp.StatusCode/100))
		return &ProviderError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.ProviderRequest(operation, "malformed")
		return &ProviderError{Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}

	c.metrics.ProviderRequest(operation, "ok")
	return nil
}

func endpoint(creds Credentials, operation string) string {
	base := strings.TrimRight(creds.APIURL, "/")
	if base == "" {
		base = DefaultAPIURL
	}
	return fmt.Sprintf("%s/waInstance%s/%s/%s", base, creds.IDInstance, operation, creds.APIToken)
}

// Falhas de rede e timeouts do próprio client são transitórias.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return !errors.Is(err, context.Canceled)
}

// ParseState converte o stateInstance do provedor para AuthState.
func ParseState(state string) model.AuthState {
	switch state {
	case "authorized":
		return model.AuthStateAuthorized
	case "notAuthorized":
		return model.AuthStateNotAuthorized
	case "starting":
		return model.AuthStateAuthorizing
	case "sleepMode":
		return model.AuthStateDisconnected
	case "blocked", "yellowCard":
		return model.AuthStateError
	default:
		return model.AuthStateDisconnected
	}
}
