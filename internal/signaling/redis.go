package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/lib/logger/sl"
	"github.com/pion/webrtc/v3"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "crisp:call:"
	redisCandidateKey  = "candidate"
	redisReadBlock     = 5 * time.Second
	redisReadBatchSize = 64
)

// RedisConfig controls the redis client behind RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	// XREAD BLOCK needs a read timeout above the block window.
	if out.ReadTimeout <= redisReadBlock {
		out.ReadTimeout = redisReadBlock + 2*time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RedisStore keeps each call document in a hash (one JSON value per field, so
// HSET is a per-field merge), announces changes on a pub/sub channel and keeps
// candidate collections in streams.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{rdb: rdb, ttl: ttl, log: log}
}

func docKey(callID string) string { return redisKeyPrefix + callID }

func changesChannel(callID string) string { return docKey(callID) + ":changes" }

func collectionKey(callID, collection string) string { return docKey(callID) + ":" + collection }

func (s *RedisStore) Create(ctx context.Context, callID string, fields Fields) error {
	const op = "signaling.redis.create"

	values, err := redisValues(fields)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	guard, ok := values[domain.FieldCallID]
	if !ok {
		guard = jsonString(callID)
	}

	created, err := s.rdb.HSetNX(ctx, docKey(callID), domain.FieldCallID, guard).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !created {
		return ErrCallExists
	}

	return s.write(ctx, op, callID, values)
}

func (s *RedisStore) Get(ctx context.Context, callID string) (*domain.SessionDescriptor, error) {
	const op = "signaling.redis.get"

	raw, err := s.rdb.HGetAll(ctx, docKey(callID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(raw) == 0 {
		return nil, ErrCallNotFound
	}

	fields := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		fields[k] = json.RawMessage(v)
	}
	return decodeDescriptor(fields)
}

func (s *RedisStore) Update(ctx context.Context, callID string, fields Fields) error {
	const op = "signaling.redis.update"

	values, err := redisValues(fields)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.write(ctx, op, callID, values)
}

// mergeScript merges fields into an existing document unless it already holds
// a terminal status, then refreshes the TTL and pings subscribers.
//
// KEYS: document, changes channel.
// ARGV: ttl ms, status field, declined, ended, field/value pairs...
var mergeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local status = redis.call('HGET', KEYS[1], ARGV[2])
if status == ARGV[3] or status == ARGV[4] then
  return 1
end
if #ARGV > 4 then
  redis.call('HSET', KEYS[1], unpack(ARGV, 5))
end
local ttl = tonumber(ARGV[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
redis.call('PUBLISH', KEYS[2], 'changed')
return 2
`)

const (
	mergeMissing  = 0
	mergeTerminal = 1
)

var (
	redisDeclined = jsonString(string(domain.CallStatusDeclined))
	redisEnded    = jsonString(string(domain.CallStatusEnded))
)

func (s *RedisStore) write(ctx context.Context, op, callID string, values map[string]any) error {
	args := make([]any, 0, 4+2*len(values))
	args = append(args, s.ttl.Milliseconds(), domain.FieldStatus, redisDeclined, redisEnded)
	for k, v := range values {
		args = append(args, k, v)
	}

	res, err := mergeScript.Run(ctx, s.rdb, []string{docKey(callID), changesChannel(callID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch res {
	case mergeMissing:
		return ErrCallNotFound
	case mergeTerminal:
		s.log.Debug("ignoring write to finished call", slog.String("op", op), slog.String("call_id", callID))
	}
	return nil
}

func (s *RedisStore) SubscribeDocument(ctx context.Context, callID string, onChange func(*domain.SessionDescriptor)) (Subscription, error) {
	const op = "signaling.redis.subscribe_document"
	log := s.log.With(slog.String("op", op), slog.String("call_id", callID))

	subCtx, cancel := context.WithCancel(ctx)
	pubsub := s.rdb.Subscribe(subCtx, changesChannel(callID))
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	go func() {
		// Every ping re-reads the whole hash, so coalesced or repeated pings
		// still converge on the latest state.
		deliver := func() {
			d, err := s.Get(subCtx, callID)
			if err != nil {
				if !errors.Is(err, ErrCallNotFound) && subCtx.Err() == nil {
					log.Warn("failed to read call document", sl.Err(err))
				}
				return
			}
			if subCtx.Err() != nil {
				return
			}
			onChange(d)
		}

		deliver()
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				deliver()
			}
		}
	}()

	var once sync.Once
	return subscriptionFunc(func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
		})
	}), nil
}

func (s *RedisStore) Append(ctx context.Context, callID, collection string, candidate webrtc.ICECandidateInit) (string, error) {
	const op = "signaling.redis.append"

	raw, err := json.Marshal(candidate)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	key := collectionKey(callID, collection)
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{redisCandidateKey: string(raw)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if s.ttl > 0 {
		if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
			s.log.Warn("failed to set candidate collection ttl", slog.String("op", op), sl.Err(err))
		}
	}
	return id, nil
}

func (s *RedisStore) SubscribeCollection(ctx context.Context, callID, collection string, onAdd func(domain.CandidateRecord)) (Subscription, error) {
	const op = "signaling.redis.subscribe_collection"
	log := s.log.With(
		slog.String("op", op),
		slog.String("call_id", callID),
		slog.String("collection", collection),
	)

	subCtx, cancel := context.WithCancel(ctx)
	key := collectionKey(callID, collection)

	go func() {
		lastID := "0"
		for subCtx.Err() == nil {
			streams, err := s.rdb.XRead(subCtx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   redisReadBatchSize,
				Block:   redisReadBlock,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if subCtx.Err() != nil {
					return
				}
				log.Warn("candidate stream read failed", sl.Err(err))
				select {
				case <-subCtx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					if subCtx.Err() != nil {
						return
					}
					lastID = msg.ID
					rec, err := decodeStreamRecord(msg)
					if err != nil {
						log.Warn("dropping malformed candidate", slog.String("record_id", msg.ID), sl.Err(err))
						continue
					}
					onAdd(rec)
				}
			}
		}
	}()

	var once sync.Once
	return subscriptionFunc(func() {
		once.Do(cancel)
	}), nil
}

func jsonString(v string) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func redisValues(fields Fields) (map[string]any, error) {
	encoded, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any, len(encoded))
	for k, v := range encoded {
		values[k] = string(v)
	}
	return values, nil
}

func decodeStreamRecord(msg redis.XMessage) (domain.CandidateRecord, error) {
	raw, ok := msg.Values[redisCandidateKey].(string)
	if !ok {
		return domain.CandidateRecord{}, errors.New("candidate field missing")
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return domain.CandidateRecord{}, err
	}
	return domain.CandidateRecord{ID: msg.ID, Candidate: c}, nil
}
