package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxBody = 8 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Config configures the REST client.
type Config struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	// The breaker opens after BreakerFailures consecutive failures and
	// lets one probe through after BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (c *Config) defaults() {
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RetryMaxElapsed == 0 {
		c.RetryMaxElapsed = 10 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout == 0 {
		c.BreakerTimeout = 30 * time.Second
	}
}

// Client talks to the chat backend's HTTP API. It implements transport.API.
type Client struct {
	http   *http.Client
	base   string
	token  string
	conf   Config
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

var _ transport.API = (*Client)(nil)

// New creates a REST client.
func New(conf Config, logger *zap.Logger) *Client {
	conf.defaults()
	logger = logging.OrNop(logger).Named("rest")

	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	st := gobreaker.Settings{
		Name:        "chat-api",
		MaxRequests: 1,
		Timeout:     conf.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.BreakerFailures
		},
		// Client errors say nothing about the server's health.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return !se.Temporary()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Client{
		http:   &http.Client{Transport: tr, Timeout: conf.Timeout},
		base:   strings.TrimRight(conf.BaseURL, "/"),
		token:  conf.Token,
		conf:   conf,
		cb:     gobreaker.NewCircuitBreaker(st),
		logger: logger,
	}
}

// BreakerState returns the circuit breaker state name.
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) once(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: truncate(string(data), 256)}
	}
	return data, nil
}

// do runs one request through the circuit breaker. GET requests are retried
// with exponential backoff on network errors and temporary statuses.
func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	res, err := c.cb.Execute(func() (any, error) {
		if method != http.MethodGet {
			return c.once(ctx, method, path, body)
		}
		var data []byte
		operation := func() error {
			d, err := c.once(ctx, method, path, body)
			if err != nil {
				var se *StatusError
				if errors.As(err, &se) && !se.Temporary() {
					return backoff.Permanent(err)
				}
				c.logger.Debug("retrying request", zap.String("path", path), zap.Error(err))
				return err
			}
			data = d
			return nil
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxElapsedTime = c.conf.RetryMaxElapsed
		if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		return nil, err
	}
	return res.([]byte), nil
}

// ListConversations returns the user's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/conversations", nil)
	if err != nil {
		return nil, err
	}
	return transport.DecodeConversations(data)
}

// GetConversationHistory returns a conversation's messages in the given order.
func (c *Client) GetConversationHistory(ctx context.Context, conversationID string, order transport.Order) ([]store.Message, error) {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if order != "" {
		path += "?" + url.Values{"order": {string(order)}}.Encode()
	}
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	msgs, err := transport.DecodeMessages(data)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ConversationID == "" {
			msgs[i].ConversationID = conversationID
		}
	}
	return msgs, nil
}

type createRequest struct {
	ParticipantID string                    `json:"participantId"`
	Message       transport.OutgoingMessage `json:"message"`
}

// CreateConversation creates a conversation with participantID, seeded with first.
func (c *Client) CreateConversation(ctx context.Context, participantID string, first transport.OutgoingMessage) (*transport.Created, error) {
	first.ConversationID = ""
	data, err := c.do(ctx, http.MethodPost, "/api/conversations", createRequest{ParticipantID: participantID, Message: first})
	if err != nil {
		return nil, err
	}
	return transport.DecodeCreated(data)
}

// SendMessage posts a message to an existing conversation.
func (c *Client) SendMessage(ctx context.Context, msg transport.OutgoingMessage) (*store.Message, error) {
	path := "/api/conversations/" + url.PathEscape(msg.ConversationID) + "/messages"
	data, err := c.do(ctx, http.MethodPost, path, msg)
	if err != nil {
		return nil, err
	}
	m, err := decodeMessageResponse(data)
	if err != nil {
		return nil, err
	}
	if m.ConversationID == "" {
		m.ConversationID = msg.ConversationID
	}
	return &m, nil
}

// UpdateConversation changes conversation flags.
func (c *Client) UpdateConversation(ctx context.Context, conversationID string, patch transport.ConversationPatch) error {
	_, err := c.do(ctx, http.MethodPatch, "/api/conversations/"+url.PathEscape(conversationID), patch)
	return err
}

// DeleteConversation deletes a conversation for the user.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(conversationID), nil)
	return err
}

// decodeMessageResponse accepts a bare message or {"message": {...}}.
func decodeMessageResponse(data []byte) (store.Message, error) {
	var wrapped struct {
		Message json.RawMessage `json:"message"`
	}
	if json.Unmarshal(data, &wrapped) == nil && len(wrapped.Message) > 0 && wrapped.Message[0] == '{' {
		return transport.DecodeMessage(wrapped.Message)
	}
	return transport.DecodeMessage(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
