package statecache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Snapshot is the mirrored overlay state.
type Snapshot struct {
	Job     string            `json:"job"`
	Percent int               `json:"percent"`
	Fields  map[string]string `json:"fields"`
}

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "bambuoverlay"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) fieldsKey() string    { return fmt.Sprintf("%s:overlay:fields", r.prefix) }
func (r *RedisStore) jobKey() string       { return fmt.Sprintf("%s:overlay:job", r.prefix) }
func (r *RedisStore) percentKey() string   { return fmt.Sprintf("%s:overlay:percent", r.prefix) }
func (r *RedisStore) channel() string      { return fmt.Sprintf("%s:snapshots", r.prefix) }
func (r *RedisStore) jobEventsKey() string { return fmt.Sprintf("%s:jobs", r.prefix) }

// SetSnapshot stores the overlay fields and publishes the snapshot to
// subscribers of the snapshot channel.
func (r *RedisStore) SetSnapshot(ctx context.Context, s *Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	if len(s.Fields) > 0 {
		values := make(map[string]any, len(s.Fields))
		for k, v := range s.Fields {
			values[k] = v
		}
		pipe.HSet(ctx, r.fieldsKey(), values)
	}
	pipe.Set(ctx, r.jobKey(), s.Job, 0)
	pipe.Set(ctx, r.percentKey(), s.Percent, 0)
	pipe.Publish(ctx, r.channel(), data)
	_, err = pipe.Exec(ctx)
	return err
}

// GetSnapshot reads the stored overlay state. A missing state returns nil.
func (r *RedisStore) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	fields, err := r.client.HGetAll(ctx, r.fieldsKey()).Result()
	if err != nil {
		return nil, err
	}
	job, err := r.client.Get(ctx, r.jobKey()).Result()
	if err == redis.Nil {
		if len(fields) == 0 {
			return nil, nil
		}
	} else if err != nil {
		return nil, err
	}
	pct, err := r.client.Get(ctx, r.percentKey()).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return &Snapshot{Job: job, Percent: pct, Fields: fields}, nil
}

// PushJobEvent appends a job lifecycle note to a capped list.
func (r *RedisStore) PushJobEvent(ctx context.Context, event string) error {
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, r.jobEventsKey(), event)
	pipe.LTrim(ctx, r.jobEventsKey(), 0, 99)
	_, err := pipe.Exec(ctx)
	return err
}

// Clear removes the mirrored state.
func (r *RedisStore) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.fieldsKey(), r.jobKey(), r.percentKey(), r.jobEventsKey()).Err()
}
