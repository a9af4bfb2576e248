package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	redisLatency metric.Float64Histogram
)

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// PresenceState represents a user's presence information
type PresenceState struct {
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

type Cache struct {
	client *redis.Client
}

// New creates a new Redis cache connection
func New(ctx context.Context, dsn string) (*Cache, error) {
	var err error

	// Initialize metrics
	meter := otel.Meter("redis-client")
	redisLatency, err = meter.Float64Histogram("redis.command.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create redis.command.latency instrument: %w", err)
	}

	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection with tracing
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.ping")
	defer span.End()
	if err := client.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to ping Redis")
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	span.SetStatus(codes.Ok, "Redis connected successfully")

	return &Cache{client: client}, nil
}

// GetClient returns the underlying Redis client (instrumented operations should use Cache methods)
func (c *Cache) GetClient() *redis.Client {
	return c.client
}

// Close closes the Redis client
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) observe(ctx context.Context, command string, start time.Time) {
	if redisLatency == nil {
		return
	}
	redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", command)))
}

// Publish instruments a Publish operation
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.publish", trace.WithAttributes(attribute.String("redis.channel", channel)))
	defer func() {
		c.observe(ctx, "publish", start)
		span.End()
	}()
	err := c.client.Publish(ctx, channel, message).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Redis publish failed")
	}
	return err
}

// Subscribe opens a long-lived subscription. The caller owns the returned
// PubSub and must close it.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	_, span := otel.Tracer("redis-client").Start(ctx, "redis.subscribe", trace.WithAttributes(attribute.StringSlice("redis.channels", channels)))
	defer span.End()
	return c.client.Subscribe(ctx, channels...)
}

func presenceKey(userID int64) string {
	return "presence:" + strconv.FormatInt(userID, 10)
}

// SetUserPresence instruments SetUserPresence operation
func (c *Cache) SetUserPresence(ctx context.Context, userID int64, state PresenceState) error {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.set_user_presence", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer func() {
		c.observe(ctx, "set_user_presence", start)
		span.End()
	}()

	data, err := json.Marshal(state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to marshal presence state")
		return fmt.Errorf("failed to marshal presence state: %w", err)
	}
	err = c.client.Set(ctx, presenceKey(userID), data, 0).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to set user presence")
	}
	return err
}

// GetPresences resolves the presence of many users with a single MGET.
// Users without an entry are absent from the result.
func (c *Cache) GetPresences(ctx context.Context, userIDs []int64) (map[int64]PresenceState, error) {
	out := make(map[int64]PresenceState, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis.get_presences", trace.WithAttributes(attribute.Int("users.count", len(userIDs))))
	defer func() {
		c.observe(ctx, "get_presences", start)
		span.End()
	}()

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to get presences")
		return nil, fmt.Errorf("failed to get presences: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var state PresenceState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			continue
		}
		out[userIDs[i]] = state
	}
	return out, nil
}
