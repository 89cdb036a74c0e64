package barrier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitCompletesImmediatelyWhenQuiet(t *testing.T) {
	var b Barrier
	token := b.Advance()
	require.NoError(t, b.AwaitQuiescence(context.Background(), token))
	assert.Equal(t, uint64(1), b.Phase())
}

func TestAwaitBlocksUntilOpsLeave(t *testing.T) {
	var b Barrier

	op := b.Enter()
	token := b.Advance()

	done := make(chan error, 1)
	go func() {
		done <- b.AwaitQuiescence(context.Background(), token)
	}()

	select {
	case <-done:
		t.Fatal("await completed while an operation was live")
	case <-time.After(20 * time.Millisecond):
	}

	op.Leave()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("await did not complete after the operation left")
	}
}

func TestOpsInLaterPhasesDoNotBlockEarlierTokens(t *testing.T) {
	var b Barrier

	token := b.Advance()
	later := b.Enter() // phase 1, after the advance
	defer later.Leave()

	require.NoError(t, b.AwaitQuiescence(context.Background(), token))
}

func TestAwaitHonorsContextCancellation(t *testing.T) {
	var b Barrier

	op := b.Enter()
	defer op.Leave()
	token := b.Advance()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.AwaitQuiescence(ctx, token)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLeaveIsIdempotent(t *testing.T) {
	var b Barrier

	op := b.Enter()
	op.Leave()
	op.Leave()

	token := b.Advance()
	require.NoError(t, b.AwaitQuiescence(context.Background(), token))
}

func TestMultipleWaitersAcrossPhases(t *testing.T) {
	var b Barrier

	op1 := b.Enter()
	t1 := b.Advance()
	op2 := b.Enter()
	t2 := b.Advance()

	done1 := make(chan error, 1)
	done2 := make(chan error, 1)
	go func() { done1 <- b.AwaitQuiescence(context.Background(), t1) }()
	go func() { done2 <- b.AwaitQuiescence(context.Background(), t2) }()

	op1.Leave()
	select {
	case err := <-done1:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("first waiter did not complete")
	}

	select {
	case <-done2:
		t.Fatal("second waiter completed while phase-1 op was live")
	case <-time.After(20 * time.Millisecond):
	}

	op2.Leave()
	select {
	case err := <-done2:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second waiter did not complete")
	}
}
