package asiomysql

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestReactor_PostRunsPostedTask(t *testing.T) {
	r := NewReactor(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	var ran uint64
	done := make(chan struct{})
	r.Post(func() {
		ran = 1
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Post never ran")
	}
	if ran != 1 {
		t.Fatal("posted task did not run")
	}
}

func TestReactor_PostFromWithinPostedTaskDoesNotDeadlock(t *testing.T) {
	r := NewReactor(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	done := make(chan struct{})
	r.Post(func() {
		r.Post(func() {
			close(done)
		})
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested Post deadlocked")
	}
}

func TestReactor_SpawnRunsFunction(t *testing.T) {
	r := NewReactor(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	var counter int64
	var wg sync.WaitGroup
	wg.Add(1)
	r.Spawn(func() {
		atomic.AddInt64(&counter, 1)
		wg.Done()
	})
	wg.Wait()
	if atomic.LoadInt64(&counter) != 1 {
		t.Fatal("spawned function did not run")
	}
}

func TestReactorGroup_RoundRobin(t *testing.T) {
	g := NewReactorGroup(3, 4)
	if g.Len() != 3 {
		t.Fatalf("expected 3 reactors, got %d", g.Len())
	}
	first := g.Next()
	second := g.Next()
	third := g.Next()
	fourth := g.Next()
	if first == second || second == third {
		t.Fatal("expected distinct reactors in round-robin order")
	}
	if first != fourth {
		t.Fatal("expected round-robin to wrap back to the first reactor")
	}
}
