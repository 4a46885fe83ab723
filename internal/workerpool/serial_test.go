package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSerialRunsInDispatchOrder(t *testing.T) {
	s := NewSerial("test")

	var mu sync.Mutex
	var got []int32
	for i := int32(0); i < 200; i++ {
		seq := i
		if !s.Dispatch(seq, func() {
			mu.Lock()
			got = append(got, seq)
			mu.Unlock()
		}) {
			t.Fatalf("Dispatch %d refused", seq)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Drain(ctx)

	if len(got) != 200 {
		t.Fatalf("ran %d tasks, want 200", len(got))
	}
	for i, seq := range got {
		if seq != int32(i) {
			t.Fatalf("task %d ran with seq %d", i, seq)
		}
	}
}

func TestSerialNeverRunsConcurrently(t *testing.T) {
	s := NewSerial("test")

	var mu sync.Mutex
	active, maxActive := 0, 0
	for i := int32(0); i < 20; i++ {
		s.Dispatch(i, func() {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Drain(ctx)

	if maxActive != 1 {
		t.Fatalf("max concurrent tasks = %d, want 1", maxActive)
	}
}

func TestSerialDispatchDoesNotBlock(t *testing.T) {
	s := NewSerial("test")
	blocker := make(chan struct{})
	s.Dispatch(0, func() { <-blocker })

	done := make(chan struct{})
	go func() {
		for i := int32(1); i <= 1000; i++ {
			s.Dispatch(i, func() {})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked behind a running task")
	}
	if got := s.Pending(); got != 1001 {
		t.Fatalf("Pending() = %d, want 1001", got)
	}

	close(blocker)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Drain(ctx)
}

func TestSerialSurvivesPanicAndRefusesAfterDrain(t *testing.T) {
	s := NewSerial("test")
	ran := make(chan struct{})
	s.Dispatch(0, func() { panic("boom") })
	s.Dispatch(1, func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task after panic never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Drain(ctx)

	if s.Dispatch(2, func() {}) {
		t.Fatal("Dispatch after Drain should be refused")
	}
}
