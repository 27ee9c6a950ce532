package data

import (
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(4)
	for i := 0; i < 3; i++ {
		if dropped := q.Push(&Batch{UserContext: i}); dropped != nil {
			t.Fatalf("Push(%d) dropped %v", i, dropped.UserContext)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}
	for i := 0; i < 3; i++ {
		b := q.Pop()
		if b == nil || b.UserContext != i {
			t.Fatalf("Pop() = %v, want batch %d", b, i)
		}
	}
	if b := q.Pop(); b != nil {
		t.Errorf("Pop() on empty queue = %v, want nil", b)
	}
}

func TestQueue_DropsOldest(t *testing.T) {
	q := NewQueue(2)
	q.Push(&Batch{UserContext: 0})
	q.Push(&Batch{UserContext: 1})

	dropped := q.Push(&Batch{UserContext: 2})
	if dropped == nil || dropped.UserContext != 0 {
		t.Fatalf("Push() dropped = %v, want batch 0", dropped)
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
	if b := q.Pop(); b.UserContext != 1 {
		t.Errorf("Pop() = %v, want batch 1", b.UserContext)
	}
}

func TestQueue_Unpop(t *testing.T) {
	q := NewQueue(2)
	q.Push(&Batch{UserContext: 0})
	q.Push(&Batch{UserContext: 1})

	b := q.Pop()
	if !q.Unpop(b) {
		t.Fatal("Unpop() = false with room")
	}
	if got := q.Pop(); got != b {
		t.Errorf("Pop() after Unpop = %v, want the same batch", got.UserContext)
	}

	q.Push(&Batch{UserContext: 2})
	if q.Unpop(b) {
		t.Error("Unpop() = true on a full queue")
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
}

func TestQueue_Notify(t *testing.T) {
	q := NewQueue(0)
	q.Push(&Batch{})
	q.Push(&Batch{})

	select {
	case <-q.Notify():
	default:
		t.Fatal("no notification after Push")
	}
	select {
	case <-q.Notify():
		t.Error("second notification pending, want coalesced")
	default:
	}
}

func TestQueue_Concurrent(t *testing.T) {
	q := NewQueue(DefaultQueueSize)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(&Batch{})
			}
		}()
	}
	popped := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		if q.Pop() != nil {
			popped++
			continue
		}
		select {
		case <-done:
			popped += drain(q)
			if total := uint64(popped) + q.Dropped(); total != 400 {
				t.Errorf("popped+dropped = %d, want 400", total)
			}
			return
		default:
		}
	}
}

func drain(q *Queue) int {
	n := 0
	for q.Pop() != nil {
		n++
	}
	return n
}
