package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdall-run/heimdall/internal/herrors"
)

func TestQuotaKeeper_Precheck_RejectsOversizeFile(t *testing.T) {
	q := NewQuotaKeeper(t.TempDir(), 10, 1000)

	err := q.Precheck(11)
	require.Error(t, err)
	var herr *herrors.Error
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, herrors.KindFileTooLarge, herr.Kind)
}

func TestQuotaKeeper_Reserve_RunsWriteWhenWithinBudget(t *testing.T) {
	root := t.TempDir()
	q := NewQuotaKeeper(root, 1000, 1000)

	ran := false
	err := q.Reserve(10, func() error {
		ran = true
		return os.WriteFile(filepath.Join(root, "a.txt"), make([]byte, 10), 0o644)
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestQuotaKeeper_Reserve_RejectsWhenWorkspaceWouldOverflow(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "existing.bin"), make([]byte, 95), 0o644))

	q := NewQuotaKeeper(root, 100, 100)

	ranWrite := false
	err := q.Reserve(10, func() error {
		ranWrite = true
		return nil
	})
	require.Error(t, err)
	var herr *herrors.Error
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, herrors.KindWorkspaceFull, herr.Kind)
	assert.False(t, ranWrite, "doWrite must not run once the budget check fails")
}

// TestQuotaKeeper_Reserve_SerializesConcurrentWriters fires several
// concurrent 5-byte reservations against a workspace pre-filled to 99
// of a 100-byte cap: the lock must make each reservation's
// size-then-write atomic, so the total on-disk size never exceeds the
// cap regardless of interleaving.
func TestQuotaKeeper_Reserve_SerializesConcurrentWriters(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "seed.bin"), make([]byte, 99), 0o644))

	q := NewQuotaKeeper(root, 5, 100)

	const attempts = 5
	var wg sync.WaitGroup
	successes := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := q.Reserve(5, func() error {
				return os.WriteFile(filepath.Join(root, "f"+string(rune('a'+i))+".bin"), make([]byte, 5), 0o644)
			})
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, ok := range successes {
		if ok {
			successCount++
		}
	}
	assert.LessOrEqual(t, successCount, 1, "99+5*N must never all fit under a 100-byte cap")

	size, err := q.workspaceSize()
	require.NoError(t, err)
	assert.LessOrEqual(t, size, int64(100))
}

func TestQuotaKeeper_Reserve_ReleasesLockOnWriteError(t *testing.T) {
	root := t.TempDir()
	q := NewQuotaKeeper(root, 100, 100)

	boom := errors.New("boom")
	err := q.Reserve(1, func() error { return boom })
	assert.ErrorIs(t, err, boom)

	// A second Reserve must not deadlock on the prior call's lock.
	done := make(chan struct{})
	go func() {
		_ = q.Reserve(1, func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Reserve deadlocked after a prior call's doWrite returned an error")
	}
}
