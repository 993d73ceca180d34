package broadcast

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/metrics"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/retry"
)

// Remote is a Transport joined to a channel served by a Relay in another
// process. It keeps one event stream open, reconnecting with backoff, and
// publishes with HTTP POSTs.
type Remote struct {
	baseURL string
	channel string
	id      string

	streamClient *http.Client
	postClient   *http.Client
	retryConfig  retry.Config
	reconnectMin time.Duration
	reconnectMax time.Duration
	log          *zap.Logger

	messages  chan []byte
	connected chan struct{}
	onConnect sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ Transport = (*Remote)(nil)

// Dial joins channelID on the relay at baseURL. It returns once the event
// stream is established, so messages published in reply to this endpoint's
// own publications are not missed.
func Dial(ctx context.Context, baseURL, channelID string) (*Remote, error) {
	loopCtx, cancel := context.WithCancel(context.Background())
	r := &Remote{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		channel: channelID,
		id:      uuid.NewString(),
		streamClient: &http.Client{
			Timeout: 0, // streams stay open
		},
		postClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryConfig:  retry.DefaultConfig(),
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
		log:          logging.Named("broadcast-remote"),
		messages:     make(chan []byte, endpointBuffer),
		connected:    make(chan struct{}),
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	go r.subscribeLoop(loopCtx)

	select {
	case <-r.connected:
		return r, nil
	case <-ctx.Done():
		r.Close()
		return nil, fmt.Errorf("join channel %s at %s: %w", channelID, baseURL, ctx.Err())
	}
}

// ID returns the endpoint id announced to the relay.
func (r *Remote) ID() string { return r.id }

// Messages yields data published by other endpoints of the channel.
func (r *Remote) Messages() <-chan []byte { return r.messages }

// Publish posts data to the relay, retrying transient failures.
func (r *Remote) Publish(ctx context.Context, data []byte) error {
	u := fmt.Sprintf("%s/channels/%s/messages", r.baseURL, url.PathEscape(r.channel))
	return retry.Do(ctx, r.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(EndpointHeader, r.id)

		resp, err := r.postClient.Do(req)
		if err != nil {
			return retry.Retryable(fmt.Errorf("publish: %w", err))
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode >= 500:
			return retry.Retryable(fmt.Errorf("publish: relay returned %d", resp.StatusCode))
		default:
			return fmt.Errorf("publish: relay returned %d", resp.StatusCode)
		}
	})
}

// Close stops the event stream and closes Messages.
func (r *Remote) Close() error {
	r.cancel()
	<-r.done
	return nil
}

func (r *Remote) subscribeLoop(ctx context.Context) {
	defer close(r.done)
	defer close(r.messages)

	reconnectDelay := r.reconnectMin

	for {
		if ctx.Err() != nil {
			return
		}

		err := r.connect(ctx)
		if ctx.Err() != nil {
			return
		}

		r.log.Warn("event stream lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", reconnectDelay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		reconnectDelay *= 2
		if reconnectDelay > r.reconnectMax {
			reconnectDelay = r.reconnectMax
		}
	}
}

func (r *Remote) connect(ctx context.Context) error {
	u := fmt.Sprintf("%s/channels/%s/events?endpoint=%s",
		r.baseURL, url.PathEscape(r.channel), url.QueryEscape(r.id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned %d", resp.StatusCode)
	}

	r.log.Info("joined broadcast channel",
		zap.String("channel", r.channel),
		zap.String("endpoint", r.id))
	r.onConnect.Do(func() { close(r.connected) })

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize+1024)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(data) > 0 {
				r.deliver([]byte(strings.Join(data, "\n")))
			}
			data = data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(rest, " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("connection closed")
}

func (r *Remote) deliver(data []byte) {
	select {
	case r.messages <- data:
	default:
		metrics.RecordBroadcast("dropped")
		r.log.Warn("broadcast message dropped, receiver is slow",
			zap.String("channel", r.channel))
	}
}
