package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/splax/lovablebridge/internal/domain"
)

const defaultRetry = 5 * time.Second

// StreamSource subscribes to the relay server's server-sent event stream for
// one project and reconnects after failures. Heartbeat comments carry no data
// and are skipped.
type StreamSource struct {
	endpoint   string
	token      string
	httpClient *http.Client
	retry      time.Duration
	logger     *slog.Logger
}

// StreamOption customises a StreamSource.
type StreamOption func(*StreamSource)

// WithStreamHTTPClient overrides the HTTP client. It must not set a
// response timeout shorter than the stream lifetime.
func WithStreamHTTPClient(h *http.Client) StreamOption {
	return func(s *StreamSource) {
		if h != nil {
			s.httpClient = h
		}
	}
}

// WithRetry sets the reconnect delay.
func WithRetry(d time.Duration) StreamOption {
	return func(s *StreamSource) {
		if d > 0 {
			s.retry = d
		}
	}
}

// WithStreamLogger sets the logger.
func WithStreamLogger(l *slog.Logger) StreamOption {
	return func(s *StreamSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStreamSource builds a source reading {relayURL}/events for projectID.
func NewStreamSource(relayURL, projectID, token string, opts ...StreamOption) (*StreamSource, error) {
	base := strings.TrimRight(strings.TrimSpace(relayURL), "/")
	if base == "" {
		return nil, errors.New("relay url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	s := &StreamSource{
		endpoint:   base + "/events?project_id=" + url.QueryEscape(projectID),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{},
		retry:      defaultRetry,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Listen starts streaming in the background. Failed connection attempts are
// retried at the configured delay; a stream that ends is reopened the same
// way.
func (s *StreamSource) Listen(ctx context.Context, l Listener) (func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(streamCtx, l)
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func (s *StreamSource) run(ctx context.Context, l Listener) {
	client := s.newClient(l)
	for {
		err := client.SubscribeRawWithContext(ctx, func(event *sse.Event) {
			if len(event.Data) > 0 {
				s.deliver(event.Data, l)
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		s.report(l, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retry):
		}
	}
}

func (s *StreamSource) newClient(l Listener) *sse.Client {
	client := sse.NewClient(s.endpoint)
	client.Connection = s.httpClient
	client.ReconnectStrategy = backoff.NewConstantBackOff(s.retry)
	client.ReconnectNotify = func(err error, _ time.Duration) { s.report(l, err) }
	client.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("webhook stream rejected with status %d", resp.StatusCode)
		}
		return nil
	}
	if s.token != "" {
		client.Headers["Authorization"] = "Bearer " + s.token
	}
	return client
}

func (s *StreamSource) report(l Listener, err error) {
	s.logger.Warn("webhook stream interrupted", "error", err, "retry", s.retry)
	if l.OnError != nil {
		l.OnError(err)
	}
}

func (s *StreamSource) deliver(raw []byte, l Listener) {
	payload, err := domain.ParseWebhookPayload(raw)
	if err != nil {
		s.logger.Warn("invalid webhook event", "error", err)
		if l.OnError != nil {
			l.OnError(err)
		}
		return
	}
	if l.OnPayload != nil {
		l.OnPayload(payload)
	}
}
