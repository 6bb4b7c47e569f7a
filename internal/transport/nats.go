package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/passbi/localtransport/internal/models"
)

const (
	subjectRoot = "localtransport"
	// AlertSubject carries debug alerts
	AlertSubject = subjectRoot + ".alert"
	// WorkerQueue is the queue group fetchers share
	WorkerQueue = "fetchers"
)

// RequestSubject is where requests for a channel are published
func RequestSubject(ch models.Channel) string {
	return fmt.Sprintf("%s.request.%s", subjectRoot, subjectToken(string(ch)))
}

// ResponseSubject is where a widget instance receives responses for a channel
func ResponseSubject(instanceID string, ch models.Channel) string {
	return fmt.Sprintf("%s.response.%s.%s", subjectRoot, subjectToken(instanceID), subjectToken(string(ch)))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

// ConnectionObserver is told when the NATS connection goes up or down
type ConnectionObserver interface {
	NATSSetConnected(connected bool)
}

// Connect dials NATS with logging reconnect handlers. observer may be nil.
func Connect(url, name string, logger *slog.Logger, observer ConnectionObserver) (*nats.Conn, error) {
	setConnected := func(up bool) {
		if observer != nil {
			observer.NATSSetConnected(up)
		}
	}

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			setConnected(true)
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	setConnected(true)
	return nc, nil
}

// NATSBus publishes requests for fetchers and receives their responses
type NATSBus struct {
	nc         *nats.Conn
	instanceID string
	sub        *nats.Subscription
	out        chan models.Envelope
	logger     *slog.Logger
}

// NewNATSBus subscribes to the responses addressed to instanceID
func NewNATSBus(nc *nats.Conn, instanceID string, buffer int, logger *slog.Logger) (*NATSBus, error) {
	b := &NATSBus{
		nc:         nc,
		instanceID: instanceID,
		out:        make(chan models.Envelope, buffer),
		logger:     logger,
	}

	subject := fmt.Sprintf("%s.response.%s.*", subjectRoot, subjectToken(instanceID))
	sub, err := nc.Subscribe(subject, b.receive)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	b.sub = sub
	return b, nil
}

// receive never blocks the subscription; envelopes beyond the buffer are dropped
func (b *NATSBus) receive(msg *nats.Msg) {
	var env models.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("dropping undecodable response", "subject", msg.Subject, "error", err)
		return
	}

	select {
	case b.out <- env:
	default:
		b.logger.Warn("dropping response, consumer is behind", "subject", msg.Subject, "channel", env.Channel, "request_id", env.RequestID)
	}
}

// Issue publishes req for the fetchers. Publishing is buffered by the client and does not wait.
func (b *NATSBus) Issue(_ context.Context, req models.RequestContext) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if err := b.nc.Publish(RequestSubject(req.Channel), data); err != nil {
		return fmt.Errorf("failed to publish request: %w", err)
	}
	return nil
}

// Responses is the stream of responses for this instance
func (b *NATSBus) Responses() <-chan models.Envelope {
	return b.out
}

// Alert is a debug alert published on AlertSubject
type Alert struct {
	InstanceID string    `json:"instance_id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notify publishes a debug alert
func (b *NATSBus) Notify(_ context.Context, message string) {
	data, err := json.Marshal(Alert{
		InstanceID: b.instanceID,
		Title:      "LOCAL TRANSPORT",
		Message:    message,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return
	}
	if err := b.nc.Publish(AlertSubject, data); err != nil {
		b.logger.Warn("failed to publish alert", "error", err)
	}
}

// Close stops receiving responses
func (b *NATSBus) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}

// HealthCheck fails while the connection is down
func HealthCheck(nc *nats.Conn) func(context.Context) error {
	return func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats not connected: %s", nc.Status())
		}
		return nil
	}
}

// FetchObserver is told about every fetch a worker performs
type FetchObserver interface {
	Fetched(channel models.Channel, status string, d time.Duration, err error)
}

// Worker answers requests published by widget instances
type Worker struct {
	nc       *nats.Conn
	fetcher  Fetcher
	timeout  time.Duration
	observer FetchObserver
	logger   *slog.Logger
	sub      *nats.Subscription
}

// NewWorker creates a worker. observer may be nil.
func NewWorker(nc *nats.Conn, fetcher Fetcher, timeout time.Duration, observer FetchObserver, logger *slog.Logger) *Worker {
	return &Worker{nc: nc, fetcher: fetcher, timeout: timeout, observer: observer, logger: logger}
}

// Start joins the fetcher queue group on every request subject
func (w *Worker) Start(ctx context.Context) error {
	subject := subjectRoot + ".request.*"
	sub, err := w.nc.QueueSubscribe(subject, WorkerQueue, func(msg *nats.Msg) {
		subject, payload, err := w.Handle(ctx, msg.Data)
		if err != nil {
			w.logger.Warn("request not answered", "subject", msg.Subject, "error", err)
			return
		}
		if err := w.nc.Publish(subject, payload); err != nil {
			w.logger.Warn("failed to publish response", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	w.sub = sub
	w.logger.Info("worker subscribed", "subject", subject, "queue", WorkerQueue)
	return nil
}

// Stop leaves the queue group, letting in-flight messages finish
func (w *Worker) Stop() error {
	if w.sub == nil {
		return nil
	}
	return w.sub.Drain()
}

// Handle decodes one request, fetches it and returns the subject and body of the reply
func (w *Worker) Handle(ctx context.Context, data []byte) (string, []byte, error) {
	var req models.RequestContext
	if err := json.Unmarshal(data, &req); err != nil {
		return "", nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if !req.Channel.Valid() {
		return "", nil, fmt.Errorf("unknown channel %q", req.Channel)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	fetcher := w.fetcher
	if w.observer != nil {
		fetcher = ObservedFetcher{Fetcher: fetcher, Observer: w.observer}
	}
	resp, err := fetcher.Fetch(fetchCtx, req)
	if err != nil {
		return "", nil, err
	}

	payload, err := json.Marshal(models.Envelope{
		InstanceID: req.InstanceID,
		RequestID:  req.RequestID,
		Channel:    req.Channel,
		Response:   resp,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return ResponseSubject(req.InstanceID, req.Channel), payload, nil
}
