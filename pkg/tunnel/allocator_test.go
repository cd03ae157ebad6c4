package tunnel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/store"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

const allocOrg = "org-alloc"

func TestAllocator_FreshNumbersAreMonotonic(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(store.NewMemoryStore())

	for want := 0; want < 5; want++ {
		got, err := a.Allocate(ctx, allocOrg)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if got.Num != want || got.Reused != nil {
			t.Fatalf("allocation %d: num %d reused %v", want, got.Num, got.Reused != nil)
		}
	}
}

func TestAllocator_RecyclesInactiveBeforeFresh(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := NewAllocator(s)

	first, err := a.Allocate(ctx, allocOrg)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	doc := &model.Tunnel{ID: "t1", Org: allocOrg, Num: first.Num, IsActive: true}
	if err := s.SaveTunnel(ctx, doc); err != nil {
		t.Fatalf("SaveTunnel: %v", err)
	}
	if err := a.Release(ctx, allocOrg, "t1"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	second, err := a.Allocate(ctx, allocOrg)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if second.Reused == nil || second.Reused.ID != "t1" {
		t.Fatalf("expected recycled document, got %+v", second)
	}
	if second.Num != first.Num {
		t.Errorf("recycled num %d, want %d", second.Num, first.Num)
	}

	// The recycled document is active again, so a third allocation must
	// draw fresh.
	third, err := a.Allocate(ctx, allocOrg)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if third.Reused != nil || third.Num == first.Num {
		t.Fatalf("third allocation %+v should be fresh", third)
	}
}

// conflictStore forces RegisterTunnelNum conflicts for a set of numbers,
// simulating a concurrent allocator that won the race.
type conflictStore struct {
	*store.MemoryStore
	taken map[int]bool
}

func (s *conflictStore) RegisterTunnelNum(ctx context.Context, org string, num int) error {
	if s.taken[num] {
		return store.ErrConflict
	}
	return s.MemoryStore.RegisterTunnelNum(ctx, org, num)
}

func TestAllocator_RetriesOnceOnRegisterConflict(t *testing.T) {
	ctx := context.Background()
	s := &conflictStore{MemoryStore: store.NewMemoryStore(), taken: map[int]bool{0: true}}
	a := NewAllocator(s)

	got, err := a.Allocate(ctx, allocOrg)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got.Num != 1 {
		t.Errorf("num %d, want 1 after one retry", got.Num)
	}

	s.taken[2] = true
	s.taken[3] = true
	if _, err := a.Allocate(ctx, allocOrg); !errors.Is(err, util.ErrAllocationExhausted) {
		t.Errorf("two conflicts in a row: err = %v, want allocation exhaustion", err)
	}
}

// exhaustedStore reports a counter already past the end of the range.
type exhaustedStore struct {
	*store.MemoryStore
}

func (s *exhaustedStore) NextTunnelNum(ctx context.Context, org string) (int, error) {
	return model.TunnelNumRange, nil
}

func TestAllocator_RangeExhaustion(t *testing.T) {
	a := NewAllocator(&exhaustedStore{MemoryStore: store.NewMemoryStore()})
	_, err := a.Allocate(context.Background(), allocOrg)
	if !errors.Is(err, util.ErrAllocationExhausted) {
		t.Fatalf("err = %v, want allocation exhaustion", err)
	}
	var ae *util.AllocationError
	if !errors.As(err, &ae) || ae.Org != allocOrg {
		t.Fatalf("err = %#v, want AllocationError for %s", err, allocOrg)
	}
}

func TestAllocator_ConcurrentAllocationsAreUnique(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(store.NewMemoryStore())

	const workers = 32
	nums := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := a.Allocate(ctx, allocOrg)
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			nums <- got.Num
		}()
	}
	wg.Wait()
	close(nums)

	seen := make(map[int]bool)
	for n := range nums {
		if seen[n] {
			t.Fatalf("number %d allocated twice", n)
		}
		seen[n] = true
	}
}

func TestAllocator_OrgsAreIndependent(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(store.NewMemoryStore())

	x, err := a.Allocate(ctx, "org-x")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	y, err := a.Allocate(ctx, "org-y")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if x.Num != 0 || y.Num != 0 {
		t.Errorf("per-org counters: got %d and %d, want 0 and 0", x.Num, y.Num)
	}
}
