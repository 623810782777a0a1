package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockStore struct {
	mu    sync.Mutex
	calls [][]FrameRecord
	err   error
}

func (m *mockStore) store(_ context.Context, items []FrameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, items)
	return m.err
}

func (m *mockStore) getCalls() [][]FrameRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestBatcher_FlushOnMaxSize(t *testing.T) {
	mock := &mockStore{}
	b := NewBatcher(mock.store, 3, time.Hour)
	for i := 1; i <= 4; i++ {
		b.Add(FrameRecord{Seq: uint64(i)})
	}
	b.Wait()

	calls := mock.getCalls()
	if len(calls) != 1 || len(calls[0]) != 3 {
		t.Fatalf("calls = %v, want one batch of 3", calls)
	}
	if calls[0][2].Seq != 3 {
		t.Errorf("last seq in batch = %d, want 3", calls[0][2].Seq)
	}

	b.Stop()
	calls = mock.getCalls()
	if len(calls) != 2 || len(calls[1]) != 1 || calls[1][0].Seq != 4 {
		t.Errorf("Stop should flush the remainder, calls = %v", calls)
	}
}

func TestBatcher_FlushOnDelay(t *testing.T) {
	mock := &mockStore{}
	b := NewBatcher(mock.store, 100, 10*time.Millisecond)
	defer b.Stop()
	b.Add(FrameRecord{Seq: 1})

	deadline := time.Now().Add(2 * time.Second)
	for len(mock.getCalls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls := mock.getCalls(); len(calls) != 1 || len(calls[0]) != 1 {
		t.Errorf("calls = %v, want one delayed flush", calls)
	}
}

func TestBatcher_AddAfterStop(t *testing.T) {
	mock := &mockStore{}
	b := NewBatcher(mock.store, 10, time.Hour)
	b.Stop()
	b.Add(FrameRecord{Seq: 1})
	b.Flush()
	b.Wait()

	if calls := mock.getCalls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none after Stop", calls)
	}
}

func TestBatcher_StoreErrorDropsBatch(t *testing.T) {
	mock := &mockStore{err: errors.New("disk full")}
	b := NewBatcher(mock.store, 2, time.Hour)
	b.Add(FrameRecord{Seq: 1})
	b.Add(FrameRecord{Seq: 2})
	b.Add(FrameRecord{Seq: 3})
	b.Stop()

	if calls := mock.getCalls(); len(calls) != 2 {
		t.Errorf("calls = %d, want 2 (failed batch not retried)", len(calls))
	}
}

func TestNewBatcherDefaults(t *testing.T) {
	b := NewBatcher(nil, 0, 0)
	defer b.Stop()
	if b.size != DefaultBatchSize || b.delay != DefaultFlushDelay {
		t.Errorf("defaults = %d, %v", b.size, b.delay)
	}
}

func TestBatcher_StoresInOrder(t *testing.T) {
	mock := &mockStore{}
	b := NewBatcher(mock.store, 2, time.Hour)
	for i := 1; i <= 9; i++ {
		b.Add(FrameRecord{Seq: uint64(i)})
	}
	b.Stop()
	b.Stop()

	var seqs []uint64
	for _, batch := range mock.getCalls() {
		for _, rec := range batch {
			seqs = append(seqs, rec.Seq)
		}
	}
	if len(seqs) != 9 {
		t.Fatalf("stored %d records, want 9", len(seqs))
	}
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("record %d has seq %d, want %d", i, seq, i+1)
		}
	}
}
