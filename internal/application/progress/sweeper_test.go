package progress

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/elfatoura-api/internal/domain"
)

func TestSweeper_InvalidSchedule(t *testing.T) {
	s := NewSweeper(newTestTracker(t), "cada rato", time.Minute, zerolog.Nop())
	assert.Error(t, s.Start())
	s.Stop()
}

func TestSweeper_RemovesStaleSessions(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.CreateSession("s1", nil)
	require.NoError(t, err)

	s := NewSweeper(tr, "@every 1s", time.Nanosecond, zerolog.Nop())
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		_, err := tr.Get("s1")
		return err != nil
	}, 3*time.Second, 20*time.Millisecond)

	_, err = tr.Get("s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweeper_StopIsIdempotent(t *testing.T) {
	s := NewSweeper(newTestTracker(t), "@every 1h", time.Minute, zerolog.Nop())
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()
	require.NoError(t, s.Start())
	s.Stop()
}
