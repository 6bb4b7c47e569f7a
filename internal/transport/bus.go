package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/passbi/localtransport/internal/models"
)

// Fetcher resolves one request into an API response
type Fetcher interface {
	Fetch(ctx context.Context, req models.RequestContext) (*models.ApiResponse, error)
}

// LocalBus resolves requests in-process, one goroutine per request, and delivers
// the envelopes on Responses in completion order
type LocalBus struct {
	fetcher Fetcher
	out     chan models.Envelope
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewLocalBus creates a bus whose response channel holds up to buffer envelopes
func NewLocalBus(fetcher Fetcher, buffer int, logger *slog.Logger) *LocalBus {
	return &LocalBus{
		fetcher: fetcher,
		out:     make(chan models.Envelope, buffer),
		logger:  logger,
	}
}

// Issue starts resolving req and returns immediately. A failed fetch delivers nothing.
func (b *LocalBus) Issue(ctx context.Context, req models.RequestContext) error {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		resp, err := b.fetcher.Fetch(ctx, req)
		if err != nil {
			b.logger.Warn("directions fetch failed", "channel", req.Channel, "request_id", req.RequestID, "error", err)
			return
		}

		env := models.Envelope{
			InstanceID: req.InstanceID,
			RequestID:  req.RequestID,
			Channel:    req.Channel,
			Response:   resp,
		}
		select {
		case b.out <- env:
		case <-ctx.Done():
		}
	}()
	return nil
}

// Responses is the stream of resolved requests
func (b *LocalBus) Responses() <-chan models.Envelope {
	return b.out
}

// Wait blocks until every issued request has been delivered or dropped
func (b *LocalBus) Wait() {
	b.wg.Wait()
}

// ObservedFetcher reports every fetch to a FetchObserver
type ObservedFetcher struct {
	Fetcher  Fetcher
	Observer FetchObserver
}

// Fetch delegates to the wrapped fetcher
func (o ObservedFetcher) Fetch(ctx context.Context, req models.RequestContext) (*models.ApiResponse, error) {
	start := time.Now()
	resp, err := o.Fetcher.Fetch(ctx, req)
	status := ""
	if resp != nil {
		status = resp.Status
	}
	o.Observer.Fetched(req.Channel, status, time.Since(start), err)
	return resp, err
}
