package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/flowguard/types"
)

// DefaultRedisKeyPrefix is used when no prefix is configured. Wrap the
// prefix in braces (e.g. "{flowguard}:") to keep every key in one cluster
// slot.
const DefaultRedisKeyPrefix = "flowguard:"

const redisQueryBatch = 256

// appendScript assigns the next sequence ID and writes the record together
// with its indexes in one atomic step.
//
// KEYS[1] sequence counter, KEYS[2] global index, KEYS[3] workflow index,
// KEYS[4] workflow set. ARGV[1] record key prefix, ARGV[2] workflow,
// ARGV[3] JSON payload.
var appendScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
redis.call('HSET', ARGV[1] .. seq, 'workflow', ARGV[2], 'payload', ARGV[3])
redis.call('ZADD', KEYS[2], seq, seq)
redis.call('ZADD', KEYS[3], seq, seq)
redis.call('SADD', KEYS[4], ARGV[2])
return seq
`)

// RedisLedger stores records as hashes indexed by sorted sets scored with
// the sequence ID. Durability follows the server's persistence settings
// (AOF with appendfsync always for a durable ledger).
type RedisLedger struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisLedger creates a ledger on client. The ledger owns the client
// and closes it on Close.
func NewRedisLedger(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) (*RedisLedger, error) {
	if client == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLedger{
		client:    client,
		keyPrefix: keyPrefix + "ledger:",
		logger:    logger.With(zap.String("component", "redis_ledger")),
	}, nil
}

func (l *RedisLedger) seqKey() string {
	return l.keyPrefix + "seq"
}

func (l *RedisLedger) indexKey() string {
	return l.keyPrefix + "index"
}

func (l *RedisLedger) workflowKey(workflow string) string {
	return l.keyPrefix + "workflow:" + workflow
}

func (l *RedisLedger) workflowsKey() string {
	return l.keyPrefix + "workflows"
}

func (l *RedisLedger) recordPrefix() string {
	return l.keyPrefix + "record:"
}

// Append implements Ledger.
func (l *RedisLedger) Append(ctx context.Context, workflow string, outcome types.ExecutionOutcome) (types.LedgerRecord, error) {
	workflow, err := checkAppend(workflow, outcome)
	if err != nil {
		return types.LedgerRecord{}, err
	}

	row := newLedgerRow(0, workflow, outcome)
	payload, err := json.Marshal(row)
	if err != nil {
		return types.LedgerRecord{}, types.NewLedgerUnavailableError("append", fmt.Errorf("encode record: %w", err))
	}

	keys := []string{l.seqKey(), l.indexKey(), l.workflowKey(workflow), l.workflowsKey()}
	seq, err := appendScript.Run(ctx, l.client, keys, l.recordPrefix(), workflow, string(payload)).Int64()
	if err != nil {
		l.logger.Error("append failed", zap.String("workflow", workflow), zap.Error(err))
		return types.LedgerRecord{}, types.NewLedgerUnavailableError("append", err)
	}

	row.SequenceID = seq
	rec, err := row.toRecord()
	if err != nil {
		return types.LedgerRecord{}, types.NewLedgerUnavailableError("append", err)
	}
	return rec, nil
}

// Query implements Ledger. It walks the index from the newest sequence
// downwards in batches; each batch is bounded by the lowest sequence seen,
// so appends made during the walk are never returned.
func (l *RedisLedger) Query(ctx context.Context, q Query) ([]types.LedgerRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	index := l.indexKey()
	if q.Workflow != "" {
		index = l.workflowKey(q.Workflow)
	}

	out := make([]types.LedgerRecord, 0)
	upper := "+inf"
	for {
		members, err := l.client.ZRevRangeByScore(ctx, index, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   upper,
			Count: redisQueryBatch,
		}).Result()
		if err != nil {
			return nil, types.NewLedgerUnavailableError("query", err)
		}
		if len(members) == 0 {
			return out, nil
		}

		recs, err := l.load(ctx, members)
		if err != nil {
			return nil, types.NewLedgerUnavailableError("query", err)
		}
		for _, rec := range recs {
			if !q.Matches(rec) {
				continue
			}
			out = append(out, rec)
			if q.Limit > 0 && len(out) == q.Limit {
				return out, nil
			}
		}

		if len(members) < redisQueryBatch {
			return out, nil
		}
		upper = "(" + members[len(members)-1]
	}
}

// load fetches the records for members, preserving their order.
func (l *RedisLedger) load(ctx context.Context, members []string) ([]types.LedgerRecord, error) {
	pipe := l.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.HGet(ctx, l.recordPrefix()+m, "payload")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]types.LedgerRecord, 0, len(members))
	for i, cmd := range cmds {
		payload, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("record %s is indexed but missing", members[i])
		}
		if err != nil {
			return nil, err
		}

		seq, err := strconv.ParseInt(members[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad index member %q: %w", members[i], err)
		}
		var row ledgerRow
		if err := json.Unmarshal([]byte(payload), &row); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", seq, err)
		}
		row.SequenceID = seq

		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Workflows implements Ledger.
func (l *RedisLedger) Workflows(ctx context.Context) ([]string, error) {
	out, err := l.client.SMembers(ctx, l.workflowsKey()).Result()
	if err != nil {
		return nil, types.NewLedgerUnavailableError("list workflows", err)
	}
	sort.Strings(out)
	return out, nil
}

// Ping implements Ledger.
func (l *RedisLedger) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return types.NewLedgerUnavailableError("ping", err)
	}
	return nil
}

// Close implements Ledger.
func (l *RedisLedger) Close() error {
	err := l.client.Close()
	if err != nil && !strings.Contains(err.Error(), "client is closed") {
		return err
	}
	return nil
}
