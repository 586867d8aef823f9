package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// addUsageScript resets the hash when the day changed, otherwise increments it
var addUsageScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'date')
if stored ~= ARGV[1] then
  redis.call('HSET', KEYS[1], 'date', ARGV[1], 'tokens', ARGV[2])
  return tonumber(ARGV[2])
end
return redis.call('HINCRBY', KEYS[1], 'tokens', ARGV[2])
`)

// RedisLedgerStore keeps the ledger in a Redis hash with fields date and tokens
type RedisLedgerStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisLedgerStore creates a store using key on client
func NewRedisLedgerStore(client redis.UniversalClient, key string) *RedisLedgerStore {
	return &RedisLedgerStore{client: client, key: key}
}

// Load reads the hash; a missing key is an empty ledger
func (s *RedisLedgerStore) Load(ctx context.Context) (UsageLedger, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return UsageLedger{}, fmt.Errorf("failed to read ledger from redis: %w", err)
	}
	if len(fields) == 0 {
		return UsageLedger{}, nil
	}

	tokens, err := strconv.Atoi(fields["tokens"])
	if err != nil {
		return UsageLedger{}, fmt.Errorf("%w: tokens field %q", errCorruptLedger, fields["tokens"])
	}
	return UsageLedger{Date: fields["date"], Tokens: tokens}, nil
}

// Save overwrites both fields
func (s *RedisLedgerStore) Save(ctx context.Context, ledger UsageLedger) error {
	if err := s.client.HSet(ctx, s.key, "date", ledger.Date, "tokens", ledger.Tokens).Err(); err != nil {
		return fmt.Errorf("failed to write ledger to redis: %w", err)
	}
	return nil
}

// Add increments the ledger in a single script call
func (s *RedisLedgerStore) Add(ctx context.Context, date string, n int) (UsageLedger, error) {
	total, err := addUsageScript.Run(ctx, s.client, []string{s.key}, date, n).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return UsageLedger{}, fmt.Errorf("failed to increment ledger in redis: empty reply")
		}
		return UsageLedger{}, fmt.Errorf("failed to increment ledger in redis: %w", err)
	}
	return UsageLedger{Date: date, Tokens: total}, nil
}

// Ping checks the connection at startup
func (s *RedisLedgerStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client
func (s *RedisLedgerStore) Close() error {
	return s.client.Close()
}
