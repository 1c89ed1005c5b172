package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"focushive/presence-service/models"
	"focushive/presence-service/utils"
)

func TestSweeperSkipsWhenAlreadyRunning(t *testing.T) {
	env := newTestEnv(t)
	sweeper := NewSweeper(env.svc, time.Minute, utils.NewLogger())

	// Simulate an in-flight sweep
	sweeper.running.Store(true)
	require.False(t, sweeper.sweepOnce())

	sweeper.running.Store(false)
	require.True(t, sweeper.sweepOnce())
}

func TestSweeperEvictsOnTick(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.UpdatePresence(ctx, "u1", models.PresenceUpdate{Status: models.StatusOnline})
	require.NoError(t, err)

	env.clock.Advance(45 * time.Second)

	sweeper := NewSweeper(env.svc, 5*time.Millisecond, utils.NewLogger())
	sweeper.Start()
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		presence, err := env.svc.GetUserPresence(ctx, "u1")
		return err == nil && presence == nil
	}, time.Second, 5*time.Millisecond)
}
