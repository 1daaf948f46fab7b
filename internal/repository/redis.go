package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TradeScout/internal/domain/models"
	"TradeScout/internal/domain/repository"

	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 10

// RedisStore keeps each record as a JSON string and serializes concurrent
// writers of one record with WATCH/MULTI.
type RedisStore struct {
	client *redis.Client
	prefix string
	limit  int
}

// NewRedisStore uses client under the key namespace prefix.
func NewRedisStore(client *redis.Client, prefix string, observationLimit int) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, limit: observationLimit}
}

func (s *RedisStore) Analysis() repository.AnalysisMemory      { return redisAnalysis{s} }
func (s *RedisStore) Observations() repository.ObservationList { return redisObservations{s} }
func (s *RedisStore) Signals() repository.SignalStore          { return redisSignals{s} }

// Close leaves the shared client open; its owner closes it.
func (s *RedisStore) Close() error { return nil }

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// watch retries fn while another client modifies the watched keys.
func (s *RedisStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis: too much contention on %v", keys)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJSON(ctx context.Context, c stringGetter, key string, dest interface{}) error {
	b, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return repository.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(b, dest)
}

type redisAnalysis struct{ s *RedisStore }

func (a redisAnalysis) Get(ctx context.Context, symbol string) (*models.AnalysisRecord, error) {
	var rec models.AnalysisRecord
	if err := getJSON(ctx, a.s.client, a.s.key("analysis", symbol), &rec); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get analysis %s: %w", symbol, err)
	}
	return &rec, nil
}

func (a redisAnalysis) List(ctx context.Context) ([]models.AnalysisRecord, error) {
	symbols, err := a.s.client.SMembers(ctx, a.s.key("analysis", "index")).Result()
	if err != nil {
		return nil, fmt.Errorf("list analysis index: %w", err)
	}
	out := make([]models.AnalysisRecord, 0, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = a.s.key("analysis", sym)
	}
	vals, err := a.s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list analysis: %w", err)
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec models.AnalysisRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (a redisAnalysis) Update(ctx context.Context, symbol string, fn func(*models.AnalysisRecord) (*models.AnalysisRecord, error)) (*models.AnalysisRecord, error) {
	key := a.s.key("analysis", symbol)
	var result *models.AnalysisRecord
	err := a.s.watch(ctx, func(tx *redis.Tx) error {
		var cur *models.AnalysisRecord
		var rec models.AnalysisRecord
		switch err := getJSON(ctx, tx, key, &rec); {
		case err == nil:
			cur = &rec
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil {
			return fmt.Errorf("update %s: nil record", symbol)
		}
		next = next.Clone()
		next.Symbol = symbol
		b, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, 0)
			p.SAdd(ctx, a.s.key("analysis", "index"), symbol)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

type redisObservations struct{ s *RedisStore }

func (o redisObservations) Touch(ctx context.Context, symbol, reason string, at time.Time) (*models.ObservationEntry, error) {
	entries := o.s.key("observations")
	order := o.s.key("observations", "order")
	var result models.ObservationEntry

	err := o.s.watch(ctx, func(tx *redis.Tx) error {
		entry := models.ObservationEntry{Symbol: symbol, AddedTime: at}
		b, err := tx.HGet(ctx, entries, symbol).Bytes()
		switch {
		case err == nil:
			if err := json.Unmarshal(b, &entry); err != nil {
				return fmt.Errorf("decode observation %s: %w", symbol, err)
			}
		case !errors.Is(err, redis.Nil):
			return err
		}
		entry.Reason = reason
		entry.LastCheckedTime = at
		entry.CheckCount++

		// Highest rank is the most recently touched member.
		top, err := tx.ZRevRangeWithScores(ctx, order, 0, 0).Result()
		if err != nil {
			return err
		}
		score := 1.0
		if len(top) > 0 {
			score = top[0].Score + 1
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		var evict []string
		if o.s.limit > 0 {
			n, err := tx.ZCard(ctx, order).Result()
			if err != nil {
				return err
			}
			exists, err := tx.ZScore(ctx, order, symbol).Result()
			if err == nil && exists > 0 {
				n--
			} else if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if over := n + 1 - int64(o.s.limit); over > 0 {
				// One extra in case symbol itself is among the oldest.
				oldest, err := tx.ZRange(ctx, order, 0, over).Result()
				if err != nil {
					return err
				}
				for _, sym := range oldest {
					if sym != symbol && int64(len(evict)) < over {
						evict = append(evict, sym)
					}
				}
			}
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, entries, symbol, data)
			p.ZAdd(ctx, order, redis.Z{Score: score, Member: symbol})
			if len(evict) > 0 {
				p.HDel(ctx, entries, evict...)
				members := make([]interface{}, len(evict))
				for i, sym := range evict {
					members[i] = sym
				}
				p.ZRem(ctx, order, members...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = entry
		return nil
	}, entries, order)
	if err != nil {
		return nil, fmt.Errorf("touch observation %s: %w", symbol, err)
	}
	return &result, nil
}

func (o redisObservations) List(ctx context.Context) ([]models.ObservationEntry, error) {
	symbols, err := o.s.client.ZRevRange(ctx, o.s.key("observations", "order"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	out := make([]models.ObservationEntry, 0, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	vals, err := o.s.client.HMGet(ctx, o.s.key("observations"), symbols...).Result()
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var e models.ObservationEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("decode observation: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

type redisSignals struct{ s *RedisStore }

func (q redisSignals) Create(ctx context.Context, sig *models.Signal) error {
	b, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	ok, err := q.s.client.SetNX(ctx, q.s.key("signal", sig.ID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("create signal %s: %w", sig.ID, err)
	}
	if !ok {
		return fmt.Errorf("signal %s already exists", sig.ID)
	}
	if err := q.s.client.ZAdd(ctx, q.s.key("signals"), redis.Z{
		Score:  float64(sig.CreatedAt.UnixMilli()),
		Member: sig.ID,
	}).Err(); err != nil {
		return fmt.Errorf("index signal %s: %w", sig.ID, err)
	}
	return nil
}

func (q redisSignals) Get(ctx context.Context, id string) (*models.Signal, error) {
	var s models.Signal
	if err := getJSON(ctx, q.s.client, q.s.key("signal", id), &s); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get signal %s: %w", id, err)
	}
	return &s, nil
}

func (q redisSignals) all(ctx context.Context) ([]models.Signal, error) {
	ids, err := q.s.client.ZRange(ctx, q.s.key("signals"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list signal ids: %w", err)
	}
	out := make([]models.Signal, 0, len(ids))
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, q.s.key("signal", id))
		}
		vals, err := q.s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("load signals: %w", err)
		}
		for _, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var s models.Signal
			if err := json.Unmarshal([]byte(str), &s); err != nil {
				return nil, fmt.Errorf("decode signal: %w", err)
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func (q redisSignals) List(ctx context.Context, f models.SignalFilter) ([]models.Signal, error) {
	all, err := q.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Signal, 0)
	for i := range all {
		if f.Match(&all[i]) {
			out = append(out, all[i])
		}
	}
	return newestFirst(out, f.Limit), nil
}

func (q redisSignals) Update(ctx context.Context, id string, fn func(*models.Signal) error) (*models.Signal, error) {
	key := q.s.key("signal", id)
	var result *models.Signal
	err := q.s.watch(ctx, func(tx *redis.Tx) error {
		var cur models.Signal
		if err := getJSON(ctx, tx, key, &cur); err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		if !models.SameImmutable(&cur, next) {
			return repository.ErrImmutableField
		}
		b, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, 0)
			return nil
		}); err != nil {
			return err
		}
		result = next
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (q redisSignals) Stats(ctx context.Context) (models.SignalStats, error) {
	all, err := q.all(ctx)
	if err != nil {
		return models.SignalStats{}, err
	}
	return models.ComputeStats(all), nil
}
