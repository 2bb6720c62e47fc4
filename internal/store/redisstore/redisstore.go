// Package redisstore is the reference external key-value store
// (SPEC_FULL.md DOMAIN STACK: "the reference external key-value store used
// for visitor-id and rate-limit counters, standing in for the out-of-scope
// 'external key-value store client' collaborator"). It backs
// identity.VisitorOracle's VisitorStore capability, and IncrementLimit /
// AdvanceFlow answer the rate-limit and flow-control queries an embedder
// feeds back into evaluators.EvaluateRateLimit /
// evaluators.EvaluateFlowControl between phases (the reference embedder in
// cmd/ wires only the VisitorStore side). Not grounded in any pack repo's Redis call sites - grimm-is-flywall
// has no Redis dependency at all - so this is built directly against
// github.com/redis/go-redis/v9's public client API (named in SPEC_FULL.md's
// DOMAIN STACK as sourced from the gtriggiano-envoy-authorization-service /
// zalando-skipper manifests in the pack).
package redisstore

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/curiefense/curiefense-go/internal/evaluators"
)

// Store wraps a go-redis client with the key prefixing spec section 6
// names: "REDIS_KEY_PREFIX (when set, appended with _ and prepended to all
// keys)".
type Store struct {
	client *redis.Client
	prefix string
}

// New builds a client from the environment variables spec section 6
// recognizes: FP_REDIS_HOST, FP_REDIS_PORT, REDIS_DB, REDIS_USERNAME,
// REDIS_PASSWORD, REDIS_KEY_PREFIX.
func New() (*Store, error) {
	host := os.Getenv("FP_REDIS_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("FP_REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &db); err != nil {
			return nil, fmt.Errorf("parsing REDIS_DB: %w", err)
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Username: os.Getenv("REDIS_USERNAME"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	})

	prefix := ""
	if p := os.Getenv("REDIS_KEY_PREFIX"); p != "" {
		prefix = p + "_"
	}

	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// Lookup implements identity.VisitorStore: a visitor-id token is known once
// any value has been written for it (spec section 4.5).
func (s *Store) Lookup(ctx context.Context, browserFingerID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key("visitor", browserFingerID)).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: visitor lookup: %w", err)
	}
	return n > 0, nil
}

// Remember records a visitor-id token so a later Lookup finds it - the
// write side a real fingerprinting flow needs but spec section 4.5 doesn't
// name an operation for explicitly (the spec only describes the read
// path); kept minimal and given the same TTL as the rate-limit counters'
// window convention (ttl<=0 means no expiry).
func (s *Store) Remember(ctx context.Context, browserFingerID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key("visitor", browserFingerID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: remembering visitor: %w", err)
	}
	return nil
}

// IncrementLimit answers one evaluators.LimitQuery: INCR the rule+key
// counter, starting its expiry window on the first hit only, so the window
// is fixed from first-seen rather than reset on every request.
func (s *Store) IncrementLimit(ctx context.Context, q evaluators.LimitQuery) (evaluators.LimitResult, error) {
	key := s.key("limit", q.RuleID, q.Key)
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return evaluators.LimitResult{}, fmt.Errorf("redisstore: incrementing limit counter: %w", err)
	}
	if count == 1 && q.Window > 0 {
		if err := s.client.Expire(ctx, key, q.Window).Err(); err != nil {
			return evaluators.LimitResult{}, fmt.Errorf("redisstore: setting limit counter expiry: %w", err)
		}
	}
	return evaluators.LimitResult{RuleID: q.RuleID, Key: q.Key, Count: int(count)}, nil
}

// AdvanceFlow answers one evaluators.FlowQuery: mark step StepIndex
// complete for (RuleID, Key) in a bitset keyed by the rule+key pair, and
// report whether every step in [0, totalSteps) is now set. window bounds
// how long a partial sequence is remembered before it expires unfinished.
func (s *Store) AdvanceFlow(ctx context.Context, q evaluators.FlowQuery, totalSteps int, window time.Duration) (evaluators.FlowResult, error) {
	key := s.key("flow", q.RuleID, q.Key)

	pipe := s.client.TxPipeline()
	pipe.SetBit(ctx, key, int64(q.StepIndex), 1)
	countCmd := pipe.BitCount(ctx, key, nil)
	if window > 0 {
		pipe.Expire(ctx, key, window)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return evaluators.FlowResult{}, fmt.Errorf("redisstore: advancing flow sequence: %w", err)
	}

	return evaluators.FlowResult{
		RuleID:    q.RuleID,
		Key:       q.Key,
		Completed: countCmd.Val() >= int64(totalSteps),
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
