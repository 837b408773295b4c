package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproveDeliversDecisionOnce(t *testing.T) {
	gate := NewGate(time.Minute)
	defer gate.Close()

	req, err := gate.Request("go test ./...", "/workspace")
	require.NoError(t, err)
	require.Equal(t, StatusRequested, req.status)

	done := make(chan bool, 1)
	go func() {
		approved, err := gate.Wait(context.Background(), req.ID)
		assert.NoError(t, err)
		done <- approved
	}()

	require.NoError(t, gate.Resolve(req.ID, true))
	assert.True(t, <-done)

	// Second resolve must fail; the decision already happened.
	assert.Error(t, gate.Resolve(req.ID, false))
}

func TestRejectDelivered(t *testing.T) {
	gate := NewGate(time.Minute)
	defer gate.Close()

	req, err := gate.Request("rm -rf build", "/workspace")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = gate.Resolve(req.ID, false)
	}()

	approved, err := gate.Wait(context.Background(), req.ID)
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestResolveUnknownID(t *testing.T) {
	gate := NewGate(time.Minute)
	defer gate.Close()
	assert.Error(t, gate.Resolve("nope", true))
}

func TestWaitTimesOut(t *testing.T) {
	gate := NewGate(50 * time.Millisecond)
	defer gate.Close()

	req, err := gate.Request("sleep 100", "/workspace")
	require.NoError(t, err)

	approved, err := gate.Wait(context.Background(), req.ID)
	assert.False(t, approved)
	assert.ErrorIs(t, err, ErrTimeout)

	// Expired requests are gone from the pending table.
	assert.Empty(t, gate.Pending())
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	gate := NewGate(time.Minute)
	defer gate.Close()

	req, err := gate.Request("true", "/workspace")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = gate.Wait(ctx, req.ID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseDrainsWaiters(t *testing.T) {
	gate := NewGate(time.Minute)

	req1, err := gate.Request("one", "/w")
	require.NoError(t, err)
	req2, err := gate.Request("two", "/w")
	require.NoError(t, err)
	assert.Len(t, gate.Pending(), 2)

	errs := make(chan error, 2)
	for _, id := range []string{req1.ID, req2.ID} {
		go func(id string) {
			_, err := gate.Wait(context.Background(), id)
			errs <- err
		}(id)
	}

	time.Sleep(10 * time.Millisecond)
	gate.Close()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("waiter leaked past Close")
		}
	}

	// Closed gate refuses new requests
	_, err = gate.Request("three", "/w")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPendingOrderedByAge(t *testing.T) {
	gate := NewGate(time.Minute)
	defer gate.Close()

	first, _ := gate.Request("first", "/w")
	time.Sleep(2 * time.Millisecond)
	second, _ := gate.Request("second", "/w")

	pending := gate.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}
