package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPurger struct {
	cutoff time.Time
	n      int64
	err    error
}

func (s *stubPurger) DeleteOlderThan(cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.n, s.err
}

func TestRetentionWorker_RunOnce(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p := &stubPurger{n: 4}
	w := NewRetentionWorker(nil, 30, nil)
	w.store = p
	w.now = func() time.Time { return now }

	assert.Equal(t, int64(4), w.RunOnce())
	assert.Equal(t, now.Add(-30*24*time.Hour), p.cutoff)

	p.err = errors.New("db down")
	assert.Equal(t, int64(0), w.RunOnce())
}

func TestRetentionWorker_DisabledReturns(t *testing.T) {
	w := NewRetentionWorker(nil, 30, nil)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run without a store should return immediately")
	}
}

func TestRetentionWorker_AgainstStore(t *testing.T) {
	store := newTestStore(t)
	appendEvent(t, store, "acme", "p1", EventTypeStateChanged, time.Now().Add(-48*time.Hour))
	appendEvent(t, store, "acme", "p1", EventTypeStateChanged, time.Now())

	w := NewRetentionWorker(store, 1, nil)
	require.Equal(t, int64(1), w.RunOnce())
}
