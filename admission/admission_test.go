package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	t.Parallel()

	a := New(1, nil)
	release, err := a.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, a.InUse())

	release()
	require.Equal(t, 0, a.InUse())
}

func TestAcquireBlocksUntilCapacityFrees(t *testing.T) {
	t.Parallel()

	a := New(1, nil)
	release, err := a.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := a.Acquire(context.Background())
		require.NoError(t, err)
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should not have completed while at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never completed after release")
	}
}

func TestAcquireTimesOutWithDeadline(t *testing.T) {
	t.Parallel()

	a := New(1, nil)
	_, err := a.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Acquire(ctx)
	require.Error(t, err)
}

func TestAcquireReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	a := New(1, nil)
	release, err := a.Acquire(context.Background())
	require.NoError(t, err)

	release()
	release()
	require.Equal(t, 0, a.InUse())
}

func TestAcquireReportsCancellation(t *testing.T) {
	t.Parallel()

	a := New(1, nil)
	_, err := a.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Acquire(ctx)
	require.Error(t, err)
}
