package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"camunda-discovery/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

// Record is the persisted form of one schedule. Redis is the system of
// record; every replica reads it before firing.
type Record struct {
	ScheduleID    string    `json:"scheduleId"`
	WorkflowName  string    `json:"workflowName"`
	Cron          []string  `json:"cron,omitempty"`
	Intervals     []string  `json:"intervals,omitempty"`
	TaskQueue     string    `json:"taskQueue"`
	Args          []any     `json:"args,omitempty"`
	OverlapPolicy string    `json:"overlapPolicy,omitempty"`
	Description   string    `json:"description,omitempty"`
	Timezone      string    `json:"timezone,omitempty"`
	Paused        bool      `json:"paused"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Store keeps schedule records under <prefix>:schedule:<id> with an index
// set at <prefix>:schedules.
type Store struct {
	rdb    redis.Cmdable
	prefix string
}

func NewStore(rdb redis.Cmdable, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) recordKey(id string) string { return s.prefix + ":schedule:" + id }
func (s *Store) indexKey() string          { return s.prefix + ":schedules" }

// LockKey namespaces fire locks; suffix distinguishes per-tick locks.
func (s *Store) LockKey(id, suffix string) string {
	if suffix == "" {
		return s.prefix + ":fire-lock:" + id
	}
	return s.prefix + ":fire-lock:" + id + ":" + suffix
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.recordKey(id)).Result()
	if err != nil {
		return false, errors.NewScheduleStoreError("exists", err)
	}
	return n > 0, nil
}

// Create writes rec only if no record with its id exists.
func (s *Store) Create(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal schedule %q: %w", rec.ScheduleID, err)
	}
	ok, err := s.rdb.SetNX(ctx, s.recordKey(rec.ScheduleID), data, 0).Result()
	if err != nil {
		return errors.NewScheduleStoreError("create", err)
	}
	if !ok {
		return errors.NewScheduleExistsError(rec.ScheduleID)
	}
	if err := s.rdb.SAdd(ctx, s.indexKey(), rec.ScheduleID).Err(); err != nil {
		return errors.NewScheduleStoreError("index", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.rdb.Get(ctx, s.recordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.NewScheduleNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewScheduleStoreError("get", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode schedule %q: %w", id, err)
	}
	return &rec, nil
}

// Save overwrites an existing record.
func (s *Store) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal schedule %q: %w", rec.ScheduleID, err)
	}
	ok, err := s.rdb.SetXX(ctx, s.recordKey(rec.ScheduleID), data, 0).Result()
	if err != nil {
		return errors.NewScheduleStoreError("save", err)
	}
	if !ok {
		return errors.NewScheduleNotFoundError(rec.ScheduleID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, s.recordKey(id)).Result()
	if err != nil {
		return errors.NewScheduleStoreError("delete", err)
	}
	if err := s.rdb.SRem(ctx, s.indexKey(), id).Err(); err != nil {
		return errors.NewScheduleStoreError("index", err)
	}
	if n == 0 {
		return errors.NewScheduleNotFoundError(id)
	}
	return nil
}

// List returns every indexed record sorted by id. Index entries whose
// record is gone are skipped.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, errors.NewScheduleStoreError("list", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.NewScheduleStoreError("list", err)
	}

	records := make([]Record, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode schedule %q: %w", ids[i], err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// AcquireLock takes key for ttl. It reports false when another holder has it.
func (s *Store) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, errors.NewScheduleStoreError("lock", err)
	}
	return ok, nil
}
