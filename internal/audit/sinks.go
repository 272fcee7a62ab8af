package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"attendance-service/internal/client"
	"attendance-service/internal/models"
	"attendance-service/internal/util"
)

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, e *models.SecurityEvent) error {
	s.logger.Info("Security event",
		zap.String("event_type", e.EventType),
		zap.String("reason", e.Reason),
		zap.String("account_id", e.AccountID),
		zap.String("email", util.MaskEmail(e.Email)),
		zap.String("ip", e.IPAddress),
		zap.String("path", e.Path),
		zap.String("country", e.Country))
	return nil
}

// KafkaSink publishes events as JSON keyed by account.
type KafkaSink struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaSink(producer *client.KafkaProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, e *models.SecurityEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode security event: %w", err)
	}
	key := e.AccountID
	if key == "" {
		key = e.IPAddress
	}
	return s.producer.ProduceMessage(ctx, s.topic, []byte(key), payload, map[string]string{
		"event_type": e.EventType,
	})
}

const clickhouseTable = `CREATE TABLE IF NOT EXISTS security_events (
	event_id String,
	event_bucket UInt16,
	event_date Date,
	event_time DateTime64(3),
	event_type LowCardinality(String),
	reason String,
	account_id String,
	email String,
	device_id String,
	ip_address String,
	user_agent String,
	path String,
	country LowCardinality(String),
	city String,
	details Map(String, String)
) ENGINE = MergeTree
PARTITION BY toYYYYMM(event_date)
ORDER BY (event_type, event_time)`

// ClickHouseSink appends events to the security_events analytics table.
type ClickHouseSink struct {
	client *client.ClickHouseClient
}

// NewClickHouseSink creates the table when missing.
func NewClickHouseSink(ctx context.Context, c *client.ClickHouseClient) (*ClickHouseSink, error) {
	if err := c.Exec(ctx, clickhouseTable); err != nil {
		return nil, fmt.Errorf("failed to create security_events table: %w", err)
	}
	return &ClickHouseSink{client: c}, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Write(ctx context.Context, e *models.SecurityEvent) error {
	details := e.Details
	if details == nil {
		details = map[string]string{}
	}
	return s.client.BatchInsert(ctx, "INSERT INTO security_events", [][]interface{}{{
		e.EventID, uint16(e.EventBucket), e.EventTime, e.EventTime, e.EventType, e.Reason,
		e.AccountID, e.Email, e.DeviceID, e.IPAddress, e.UserAgent, e.Path,
		e.Country, e.City, details,
	}})
}

// ElasticsearchSink indexes events for search and serves Recent queries.
type ElasticsearchSink struct {
	client *client.ESClient
	index  string
}

func NewElasticsearchSink(c *client.ESClient, index string) *ElasticsearchSink {
	return &ElasticsearchSink{client: c, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, e *models.SecurityEvent) error {
	return s.client.IndexDocument(ctx, s.index, e.EventID, e)
}

func (s *ElasticsearchSink) Recent(ctx context.Context, f Filter) ([]models.SecurityEvent, error) {
	var must []map[string]interface{}
	if f.AccountID != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"accountId.keyword": f.AccountID}})
	}
	if f.EventType != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"eventType.keyword": f.EventType}})
	}
	query := map[string]interface{}{
		"size": limitOrDefault(f.Limit),
		"sort": []map[string]interface{}{{"eventTime": map[string]string{"order": "desc"}}},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		},
	}

	var res struct {
		Hits struct {
			Hits []struct {
				Source models.SecurityEvent `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := s.client.Search(ctx, s.index, query, &res); err != nil {
		return nil, err
	}

	out := make([]models.SecurityEvent, 0, len(res.Hits.Hits))
	for _, h := range res.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

// MemorySink keeps the last N events in a ring; it backs Recent queries when
// Elasticsearch is not configured.
type MemorySink struct {
	mu     sync.Mutex
	events []models.SecurityEvent
	next   int
	full   bool
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemorySink{events: make([]models.SecurityEvent, capacity)}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Write(_ context.Context, e *models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[s.next] = *e
	s.next = (s.next + 1) % len(s.events)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *MemorySink) Recent(_ context.Context, f Filter) ([]models.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	if s.full {
		n = len(s.events)
	}
	limit := limitOrDefault(f.Limit)

	var out []models.SecurityEvent
	for i := 0; i < n && len(out) < limit; i++ {
		idx := (s.next - 1 - i + len(s.events)) % len(s.events)
		e := s.events[idx]
		if f.AccountID != "" && e.AccountID != f.AccountID {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func limitOrDefault(n int) int {
	if n <= 0 || n > 500 {
		return 100
	}
	return n
}
