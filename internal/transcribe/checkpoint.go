package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CheckpointStore persists in-flight poll states per task so a redelivered task resumes
// its attempt budget instead of starting over.
type CheckpointStore interface {
	Load(ctx context.Context, taskID, jobID uuid.UUID) (PollState, bool, error)
	Save(ctx context.Context, taskID uuid.UUID, state PollState) error
	Delete(ctx context.Context, taskID uuid.UUID) error
}

// MemoryCheckpoints keeps checkpoints in process memory.
type MemoryCheckpoints struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]map[uuid.UUID]PollState
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{tasks: make(map[uuid.UUID]map[uuid.UUID]PollState)}
}

func (m *MemoryCheckpoints) Load(_ context.Context, taskID, jobID uuid.UUID) (PollState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.tasks[taskID][jobID]
	return s, ok, nil
}

func (m *MemoryCheckpoints) Save(_ context.Context, taskID uuid.UUID, state PollState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs, ok := m.tasks[taskID]
	if !ok {
		jobs = make(map[uuid.UUID]PollState)
		m.tasks[taskID] = jobs
	}
	jobs[state.JobID] = state
	return nil
}

func (m *MemoryCheckpoints) Delete(_ context.Context, taskID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	return nil
}

const (
	checkpointKeyPrefix = "transcription:checkpoint:"
	// Longer than the poll ceiling plus every queue retry.
	checkpointTTL = 72 * time.Hour
)

// RedisCheckpoints stores one hash per task, one field per job.
type RedisCheckpoints struct {
	client *redis.Client
}

func NewRedisCheckpoints(client *redis.Client) *RedisCheckpoints {
	return &RedisCheckpoints{client: client}
}

func checkpointKey(taskID uuid.UUID) string {
	return checkpointKeyPrefix + taskID.String()
}

func (r *RedisCheckpoints) Load(ctx context.Context, taskID, jobID uuid.UUID) (PollState, bool, error) {
	data, err := r.client.HGet(ctx, checkpointKey(taskID), jobID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return PollState{}, false, nil
	}
	if err != nil {
		return PollState{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	var s PollState
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return PollState{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return s, true, nil
}

func (r *RedisCheckpoints) Save(ctx context.Context, taskID uuid.UUID, state PollState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	key := checkpointKey(taskID)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, state.JobID.String(), data)
		p.Expire(ctx, key, checkpointTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (r *RedisCheckpoints) Delete(ctx context.Context, taskID uuid.UUID) error {
	return r.client.Del(ctx, checkpointKey(taskID)).Err()
}
