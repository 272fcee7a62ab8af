// Package audit records security events (authentication failures, denied
// privilege checks, logins, password changes) to every configured sink.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendance-service/internal/bucketing"
	"attendance-service/internal/models"
)

const writeTimeout = 3 * time.Second

// Sink persists one event. Implementations must be safe for concurrent use.
type Sink interface {
	Name() string
	Write(ctx context.Context, event *models.SecurityEvent) error
}

// Locator resolves an IP address to country and city, best effort.
type Locator interface {
	Locate(ip string) (country, city string)
}

// Filter narrows a Searcher query. Zero values match everything.
type Filter struct {
	AccountID string
	EventType string
	Limit     int
}

// Searcher returns the most recent events first.
type Searcher interface {
	Recent(ctx context.Context, filter Filter) ([]models.SecurityEvent, error)
}

type Trail struct {
	sinks   []Sink
	locator Locator
	buckets *bucketing.Manager
	logger  *zap.Logger
	now     func() time.Time
}

func NewTrail(logger *zap.Logger, buckets *bucketing.Manager, locator Locator, sinks ...Sink) *Trail {
	return &Trail{
		sinks:   sinks,
		locator: locator,
		buckets: buckets,
		logger:  logger,
		now:     time.Now,
	}
}

// Record stamps the event and writes it to all sinks in parallel. Sink
// failures are logged; auditing never fails the request that triggered it.
func (t *Trail) Record(ctx context.Context, event models.SecurityEvent) {
	if t == nil {
		return
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.EventTime.IsZero() {
		event.EventTime = t.now().UTC()
	}
	event.EventDate = t.buckets.DateBucket(event.EventTime)
	key := event.AccountID
	if key == "" {
		key = event.IPAddress
	}
	event.EventBucket = t.buckets.EventBucket(key)
	if t.locator != nil && event.IPAddress != "" && event.Country == "" {
		event.Country, event.City = t.locator.Locate(event.IPAddress)
	}

	// the request may already be finished; keep its values, drop its deadline
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(writeCtx)
	for _, sink := range t.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Write(gctx, &event); err != nil {
				t.logger.Warn("Audit sink write failed",
					zap.String("sink", sink.Name()),
					zap.String("event_type", event.EventType),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// SinkNames lists the configured sinks, for startup logging.
func (t *Trail) SinkNames() []string {
	names := make([]string, 0, len(t.sinks))
	for _, s := range t.sinks {
		names = append(names, s.Name())
	}
	return names
}
