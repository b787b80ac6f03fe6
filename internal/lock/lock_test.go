package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexFailsFastWhileHeld(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	release, err := km.Acquire(ctx, "app1/production", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := km.Acquire(ctx, "app1/production", time.Minute); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	// Other keys stay independent.
	otherRelease, err := km.Acquire(ctx, "app1/staging", time.Minute)
	if err != nil {
		t.Fatalf("independent key: %v", err)
	}
	otherRelease()

	release()
	release2, err := km.Acquire(ctx, "app1/production", time.Minute)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestKeyedMutexReleaseIsIdempotent(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	release, err := km.Acquire(ctx, "app1/production", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release()

	// A double release must not free a lock some other caller now holds.
	second, err := km.Acquire(ctx, "app1/production", time.Minute)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	release()
	if _, err := km.Acquire(ctx, "app1/production", time.Minute); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while second holder active, got %v", err)
	}
	second()
}

func TestKeyedMutexUnderContention(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := km.Acquire(ctx, "shared", time.Minute)
			if err != nil {
				return
			}
			defer release()
			mu.Lock()
			acquired++
			mu.Unlock()
		}()
	}
	wg.Wait()
	if acquired < 1 {
		t.Fatal("expected at least one successful acquire")
	}

	release, err := km.Acquire(ctx, "shared", time.Minute)
	if err != nil {
		t.Fatalf("expected key free after all goroutines, got %v", err)
	}
	release()
}
