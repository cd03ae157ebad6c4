package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// JobQueue delivers a queued job toward its device. Delivery is
// per-device FIFO; the transport owns retries below this interface.
type JobQueue interface {
	Submit(ctx context.Context, job *model.Job) error
}

// RedisQueue pushes jobs onto per-device Redis lists consumed by the
// device connection workers.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func queueKey(org, deviceID string) string {
	return fmt.Sprintf("jobs|%s|%s", org, deviceID)
}

func (q *RedisQueue) Submit(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, queueKey(job.Org, job.DeviceID), data).Err(); err != nil {
		return fmt.Errorf("%w: %v", util.ErrQueueUnavailable, err)
	}
	return nil
}

// MemQueue collects submitted jobs in memory. Tests use it to inspect
// what was dispatched; FailNext forces the next submission to fail.
type MemQueue struct {
	mu       sync.Mutex
	jobs     []*model.Job
	failNext bool
}

func NewMemQueue() *MemQueue {
	return &MemQueue{}
}

func (q *MemQueue) Submit(ctx context.Context, job *model.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNext {
		q.failNext = false
		return util.ErrQueueUnavailable
	}
	q.jobs = append(q.jobs, job)
	return nil
}

// Jobs returns the submitted jobs in order.
func (q *MemQueue) Jobs() []*model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// FailNext makes the next Submit return ErrQueueUnavailable.
func (q *MemQueue) FailNext() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failNext = true
}

// Reset drops collected jobs.
func (q *MemQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = nil
	q.failNext = false
}
