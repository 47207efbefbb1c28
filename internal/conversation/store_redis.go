package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps live state in a hash {seq, state} with a TTL so abandoned
// calls age out. Writes go through Lua so the seq check and the write are atomic.
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("conversation: redis client required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

// Keys share the {jobID} hash tag so scripts touching both stay on one slot.
func liveKey(jobID string) string    { return "outbound:conv:{" + jobID + "}" }
func archiveKey(jobID string) string { return "outbound:conv:{" + jobID + "}:archive" }

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'seq', ARGV[1], 'state', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

var saveScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'seq')
if not cur then
  return -1
end
if cur ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'seq', ARGV[2], 'state', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

var archiveScript = redis.NewScript(`
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
redis.call('DEL', KEYS[1])
return 1
`)

func (s *RedisStore) Create(ctx context.Context, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("conversation: encode state: %w", err)
	}
	res, err := createScript.Run(ctx, s.rdb, []string{liveKey(st.JobID)},
		strconv.FormatInt(st.Seq, 10), raw, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("conversation: create state: %w", err)
	}
	if res == 0 {
		return ErrStateExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (*State, error) {
	raw, err := s.rdb.HGet(ctx, liveKey(jobID), "state").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoConversation
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get state: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("conversation: decode state: %w", err)
	}
	return &st, nil
}

func (s *RedisStore) Save(ctx context.Context, st *State, expectedSeq int64) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("conversation: encode state: %w", err)
	}
	res, err := saveScript.Run(ctx, s.rdb, []string{liveKey(st.JobID)},
		strconv.FormatInt(expectedSeq, 10), strconv.FormatInt(st.Seq, 10), raw, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("conversation: save state: %w", err)
	}
	switch res {
	case -1:
		return ErrNoConversation
	case 0:
		return ErrStaleState
	}
	return nil
}

func (s *RedisStore) Archive(ctx context.Context, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("conversation: encode state: %w", err)
	}
	if err := archiveScript.Run(ctx, s.rdb, []string{liveKey(st.JobID), archiveKey(st.JobID)},
		raw, s.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("conversation: archive state: %w", err)
	}
	return nil
}
