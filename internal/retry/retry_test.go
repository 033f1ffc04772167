package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
)

func TestDo_RetriesConnectionErrors(t *testing.T) {
	p := Default().NoWait()
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return apperr.Connection(errors.New("timeout"), "fetch")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	p := Default().NoWait()
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return apperr.Authentication("401")
	})
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	p := Default().NoWait()
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return apperr.Connection(errors.New("reset"), "fetch")
	})
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, p.MaxAttempts, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour}
	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return apperr.Connection(errors.New("reset"), "fetch")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, p.Backoff(2))
	assert.Equal(t, 2*time.Second, p.Backoff(3))
	assert.Equal(t, 3*time.Second, p.Backoff(4))
	assert.Equal(t, 3*time.Second, p.Backoff(9))
}
