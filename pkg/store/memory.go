package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
)

// MemoryStore is an in-process Store with the same atomicity contract as
// the Redis implementation. It backs the package tests and small
// single-instance deployments.
type MemoryStore struct {
	mu       sync.Mutex
	devices  map[string]*model.Device // keyed org|id
	tunnels  map[string]*model.Tunnel
	jobs     map[string]*model.Job
	counters map[string]int          // org -> next num
	nums     map[string]map[int]bool // org -> held numbers
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:  make(map[string]*model.Device),
		tunnels:  make(map[string]*model.Tunnel),
		jobs:     make(map[string]*model.Job),
		counters: make(map[string]int),
		nums:     make(map[string]map[int]bool),
	}
}

func memKey(org, id string) string { return org + "|" + id }

// cloneDevice deep-copies via JSON so callers never share memory with
// the store, matching the serialize-over-the-wire behavior of Redis.
func cloneDevice(d *model.Device) *model.Device {
	raw, _ := json.Marshal(d)
	out := &model.Device{}
	_ = json.Unmarshal(raw, out)
	return out
}

func cloneTunnel(t *model.Tunnel) *model.Tunnel {
	raw, _ := json.Marshal(t)
	out := &model.Tunnel{}
	_ = json.Unmarshal(raw, out)
	return out
}

func cloneJob(j *model.Job) *model.Job {
	raw, _ := json.Marshal(j)
	out := &model.Job{}
	_ = json.Unmarshal(raw, out)
	return out
}

// GetDevice returns one device document.
func (s *MemoryStore) GetDevice(ctx context.Context, org, id string) (*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[memKey(org, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDevice(d), nil
}

// ListDevices returns all devices of an organization.
func (s *MemoryStore) ListDevices(ctx context.Context, org string) ([]*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Device
	for _, d := range s.devices {
		if d.Org == org {
			out = append(out, cloneDevice(d))
		}
	}
	return out, nil
}

// SaveDevice upserts a device document.
func (s *MemoryStore) SaveDevice(ctx context.Context, d *model.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[memKey(d.Org, d.ID)] = cloneDevice(d)
	return nil
}

// DeleteDevice removes a device document.
func (s *MemoryStore) DeleteDevice(ctx context.Context, org, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, memKey(org, id))
	return nil
}

// UpdateDevice atomically applies fn to the stored document.
func (s *MemoryStore) UpdateDevice(ctx context.Context, org, id string, fn func(*model.Device) error) (*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[memKey(org, id)]
	if !ok {
		return nil, ErrNotFound
	}
	next := cloneDevice(d)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.devices[memKey(org, id)] = next
	return cloneDevice(next), nil
}

// GetTunnel returns one tunnel document.
func (s *MemoryStore) GetTunnel(ctx context.Context, org, id string) (*model.Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tunnels[memKey(org, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTunnel(t), nil
}

// ListTunnels returns all tunnels of an organization.
func (s *MemoryStore) ListTunnels(ctx context.Context, org string) ([]*model.Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Tunnel
	for _, t := range s.tunnels {
		if t.Org == org {
			out = append(out, cloneTunnel(t))
		}
	}
	return out, nil
}

// SaveTunnel upserts a tunnel document.
func (s *MemoryStore) SaveTunnel(ctx context.Context, t *model.Tunnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunnels[memKey(t.Org, t.ID)] = cloneTunnel(t)
	return nil
}

// UpdateTunnel atomically applies fn to the stored document.
func (s *MemoryStore) UpdateTunnel(ctx context.Context, org, id string, fn func(*model.Tunnel) error) (*model.Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tunnels[memKey(org, id)]
	if !ok {
		return nil, ErrNotFound
	}
	next := cloneTunnel(t)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.tunnels[memKey(org, id)] = next
	return cloneTunnel(next), nil
}

// ClaimInactiveTunnel takes one inactive tunnel and flips it active.
func (s *MemoryStore) ClaimInactiveTunnel(ctx context.Context, org string) (*model.Tunnel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.tunnels {
		if t.Org == org && !t.IsActive {
			next := cloneTunnel(t)
			next.IsActive = true
			s.tunnels[key] = next
			return cloneTunnel(next), true, nil
		}
	}
	return nil, false, nil
}

// ReleaseTunnel deactivates a tunnel.
func (s *MemoryStore) ReleaseTunnel(ctx context.Context, org, id string) error {
	_, err := s.UpdateTunnel(ctx, org, id, func(t *model.Tunnel) error {
		t.IsActive = false
		return nil
	})
	return err
}

// NextTunnelNum returns the next unallocated tunnel number.
func (s *MemoryStore) NextTunnelNum(ctx context.Context, org string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.counters[org]
	s.counters[org] = n + 1
	return n, nil
}

// RegisterTunnelNum records num as held; ErrConflict if already held.
func (s *MemoryStore) RegisterTunnelNum(ctx context.Context, org string, num int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.nums[org]
	if held == nil {
		held = make(map[int]bool)
		s.nums[org] = held
	}
	if held[num] {
		return ErrConflict
	}
	held[num] = true
	return nil
}

// UnregisterTunnelNum releases a number registration.
func (s *MemoryStore) UnregisterTunnelNum(ctx context.Context, org string, num int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held := s.nums[org]; held != nil {
		delete(held, num)
	}
	return nil
}

// GetJob returns one job document.
func (s *MemoryStore) GetJob(ctx context.Context, org, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[memKey(org, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

// SaveJob upserts a job document.
func (s *MemoryStore) SaveJob(ctx context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[memKey(j.Org, j.ID)] = cloneJob(j)
	return nil
}

// UpdateJobState transitions a job's state.
func (s *MemoryStore) UpdateJobState(ctx context.Context, org, id string, state model.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[memKey(org, id)]
	if !ok {
		return ErrNotFound
	}
	j.State = state
	return nil
}
