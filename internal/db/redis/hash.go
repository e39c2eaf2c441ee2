package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/stquery/internal/db"
)

// pipelineChunk caps the commands sent in one DoMulti. An octree load or a
// frontier fetch can touch tens of thousands of node hashes.
const pipelineChunk = 256

// HSet sets hash fields. An empty field map is a no-op.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.do(ctx, s.hset(key, fields)).Error(); err != nil {
		return &db.Error{Op: db.OpHSet, Err: fmt.Errorf("key %s: %w", key, err)}
	}
	return nil
}

func (s *Store) hset(key string, fields map[string]string) rueidis.Completed {
	cmd := s.b().Hset().Key(key).FieldValue()
	for k, v := range fields {
		cmd = cmd.FieldValue(k, v)
	}
	return cmd.Build()
}

// HSetMulti stores many hashes, pipelined in chunks. Items without fields are skipped.
func (s *Store) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	keys := make([]string, 0, len(items))
	cmds := make([]rueidis.Completed, 0, len(items))
	for _, item := range items {
		if len(item.Fields) == 0 {
			continue
		}
		keys = append(keys, item.Key)
		cmds = append(cmds, s.hset(item.Key, item.Fields))
	}
	return s.pipeline(ctx, db.OpHSet, keys, cmds, nil)
}

// HGetAll returns all fields of a hash; a missing key yields an empty map.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.do(ctx, s.b().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		return nil, &db.Error{Op: db.OpHGetAll, Err: fmt.Errorf("key %s: %w", key, err)}
	}
	return m, nil
}

// HGetAllMulti fetches many hashes in key order, pipelined in chunks.
func (s *Store) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cmds := make([]rueidis.Completed, len(keys))
	for i, key := range keys {
		cmds[i] = s.b().Hgetall().Key(key).Build()
	}

	out := make([]map[string]string, len(keys))
	err := s.pipeline(ctx, db.OpHGetAll, keys, cmds, func(i int, res rueidis.RedisResult) error {
		m, err := res.AsStrMap()
		if err != nil {
			return err
		}
		out[i] = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// pipeline runs cmds in chunks of pipelineChunk and hands every reply to
// read, or only checks it for errors when read is nil. keys[i] names cmds[i]
// in errors.
func (s *Store) pipeline(
	ctx context.Context, op string, keys []string, cmds []rueidis.Completed,
	read func(i int, res rueidis.RedisResult) error,
) error {
	for start := 0; start < len(cmds); start += pipelineChunk {
		end := min(start+pipelineChunk, len(cmds))
		for j, res := range s.client.DoMulti(ctx, cmds[start:end]...) {
			i := start + j
			err := res.Error()
			if err == nil && read != nil {
				err = read(i, res)
			}
			if err != nil {
				return &db.Error{Op: op, Err: fmt.Errorf("key %s: %w", keys[i], err)}
			}
		}
	}
	return nil
}

// Del deletes a key.
func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.do(ctx, s.b().Del().Key(key).Build()).Error(); err != nil {
		return &db.Error{Op: db.OpDel, Err: fmt.Errorf("key %s: %w", key, err)}
	}
	return nil
}

// Exists checks if a key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	count, err := s.do(ctx, s.b().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return count > 0, nil
}

// Scan collects the keys matching pattern. Partition and query keyspaces
// are small, so the whole cursor walk happens in one call.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		res, err := s.do(ctx, s.b().Scan().Cursor(cursor).Match(pattern).Count(500).Build()).AsScanEntry()
		if err != nil {
			return nil, &db.Error{Op: db.OpScan, Err: err}
		}
		keys = append(keys, res.Elements...)
		if cursor = res.Cursor; cursor == 0 {
			return keys, nil
		}
	}
}
