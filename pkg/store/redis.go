package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
)

// casRetries bounds optimistic-lock retries on contended documents.
const casRetries = 5

// RedisStore keeps each document as a JSON value under a "table|org|id"
// key, with per-organization index sets for listing. Atomic
// read-modify-write uses WATCH + TxPipelined, the same optimistic
// pattern the device config writers use.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store against the given Redis address.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Connect tests the connection
func (s *RedisStore) Connect(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying connection so the job queue and the
// response consumers can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func deviceKey(org, id string) string { return "device|" + org + "|" + id }
func deviceIdx(org string) string     { return "devices|" + org }
func tunnelKey(org, id string) string { return "tunnel|" + org + "|" + id }
func tunnelIdx(org string) string     { return "tunnels|" + org }
func inactiveIdx(org string) string   { return "tunnels:inactive|" + org }
func numIdx(org string) string        { return "tunnelnums|" + org }
func numCounter(org string) string    { return "tunnelnum|" + org }
func jobKey(org, id string) string    { return "job|" + org + "|" + id }

func (s *RedisStore) getJSON(ctx context.Context, key string, out interface{}) error {
	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), out)
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

// casUpdate applies mutate to the JSON document at key under WATCH and
// writes it back transactionally. decode must unmarshal into a fresh
// value each attempt.
func (s *RedisStore) casUpdate(ctx context.Context, key string, attempt func(tx *redis.Tx) error) error {
	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, attempt, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return ErrConflict
}

// GetDevice returns one device document.
func (s *RedisStore) GetDevice(ctx context.Context, org, id string) (*model.Device, error) {
	d := &model.Device{}
	if err := s.getJSON(ctx, deviceKey(org, id), d); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDevices returns all devices of an organization.
func (s *RedisStore) ListDevices(ctx context.Context, org string) ([]*model.Device, error) {
	ids, err := s.client.SMembers(ctx, deviceIdx(org)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*model.Device, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetDevice(ctx, org, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// SaveDevice upserts a device document.
func (s *RedisStore) SaveDevice(ctx context.Context, d *model.Device) error {
	if err := s.setJSON(ctx, deviceKey(d.Org, d.ID), d); err != nil {
		return err
	}
	return s.client.SAdd(ctx, deviceIdx(d.Org), d.ID).Err()
}

// DeleteDevice removes a device document.
func (s *RedisStore) DeleteDevice(ctx context.Context, org, id string) error {
	if err := s.client.Del(ctx, deviceKey(org, id)).Err(); err != nil {
		return err
	}
	return s.client.SRem(ctx, deviceIdx(org), id).Err()
}

// UpdateDevice atomically applies fn to the stored document.
func (s *RedisStore) UpdateDevice(ctx context.Context, org, id string, fn func(*model.Device) error) (*model.Device, error) {
	key := deviceKey(org, id)
	var updated *model.Device
	err := s.casUpdate(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		d := &model.Device{}
		if err := json.Unmarshal([]byte(data), d); err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		raw, err := json.Marshal(d)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		if err == nil {
			updated = d
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetTunnel returns one tunnel document.
func (s *RedisStore) GetTunnel(ctx context.Context, org, id string) (*model.Tunnel, error) {
	t := &model.Tunnel{}
	if err := s.getJSON(ctx, tunnelKey(org, id), t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTunnels returns all tunnels of an organization, active or not.
func (s *RedisStore) ListTunnels(ctx context.Context, org string) ([]*model.Tunnel, error) {
	ids, err := s.client.SMembers(ctx, tunnelIdx(org)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*model.Tunnel, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTunnel(ctx, org, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// SaveTunnel upserts a tunnel document and maintains the indexes.
func (s *RedisStore) SaveTunnel(ctx context.Context, t *model.Tunnel) error {
	if err := s.setJSON(ctx, tunnelKey(t.Org, t.ID), t); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, tunnelIdx(t.Org), t.ID).Err(); err != nil {
		return err
	}
	if t.IsActive {
		return s.client.SRem(ctx, inactiveIdx(t.Org), t.ID).Err()
	}
	return s.client.SAdd(ctx, inactiveIdx(t.Org), t.ID).Err()
}

// UpdateTunnel atomically applies fn to the stored document.
func (s *RedisStore) UpdateTunnel(ctx context.Context, org, id string, fn func(*model.Tunnel) error) (*model.Tunnel, error) {
	key := tunnelKey(org, id)
	var updated *model.Tunnel
	err := s.casUpdate(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		t := &model.Tunnel{}
		if err := json.Unmarshal([]byte(data), t); err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		raw, err := json.Marshal(t)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		if err == nil {
			updated = t
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ClaimInactiveTunnel pops one id off the inactive set and reactivates
// the document. SPOP makes concurrent claimers receive distinct ids.
func (s *RedisStore) ClaimInactiveTunnel(ctx context.Context, org string) (*model.Tunnel, bool, error) {
	for {
		id, err := s.client.SPop(ctx, inactiveIdx(org)).Result()
		if err == redis.Nil {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		t, err := s.UpdateTunnel(ctx, org, id, func(t *model.Tunnel) error {
			t.IsActive = true
			return nil
		})
		if err == ErrNotFound {
			// Stale index entry; keep looking.
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return t, true, nil
	}
}

// ReleaseTunnel deactivates a tunnel so its number can be recycled.
func (s *RedisStore) ReleaseTunnel(ctx context.Context, org, id string) error {
	t, err := s.UpdateTunnel(ctx, org, id, func(t *model.Tunnel) error {
		t.IsActive = false
		return nil
	})
	if err != nil {
		return err
	}
	return s.client.SAdd(ctx, inactiveIdx(org), t.ID).Err()
}

// NextTunnelNum returns the next unallocated tunnel number for the
// organization (zero-based, monotonic).
func (s *RedisStore) NextTunnelNum(ctx context.Context, org string) (int, error) {
	n, err := s.client.Incr(ctx, numCounter(org)).Result()
	if err != nil {
		return 0, err
	}
	return int(n) - 1, nil
}

// RegisterTunnelNum records num as held; ErrConflict if already held.
func (s *RedisStore) RegisterTunnelNum(ctx context.Context, org string, num int) error {
	added, err := s.client.SAdd(ctx, numIdx(org), strconv.Itoa(num)).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return ErrConflict
	}
	return nil
}

// UnregisterTunnelNum releases a number registration.
func (s *RedisStore) UnregisterTunnelNum(ctx context.Context, org string, num int) error {
	return s.client.SRem(ctx, numIdx(org), strconv.Itoa(num)).Err()
}

// GetJob returns one job document.
func (s *RedisStore) GetJob(ctx context.Context, org, id string) (*model.Job, error) {
	j := &model.Job{}
	if err := s.getJSON(ctx, jobKey(org, id), j); err != nil {
		return nil, err
	}
	return j, nil
}

// SaveJob upserts a job document.
func (s *RedisStore) SaveJob(ctx context.Context, j *model.Job) error {
	return s.setJSON(ctx, jobKey(j.Org, j.ID), j)
}

// UpdateJobState transitions a job's state.
func (s *RedisStore) UpdateJobState(ctx context.Context, org, id string, state model.JobState) error {
	j, err := s.GetJob(ctx, org, id)
	if err != nil {
		return err
	}
	j.State = state
	if err := s.SaveJob(ctx, j); err != nil {
		return fmt.Errorf("updating job %s state: %w", id, err)
	}
	return nil
}
