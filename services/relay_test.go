package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"focushive/presence-service/models"
	"focushive/presence-service/utils"
)

func TestRelayReplaysForeignPresenceEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	relay := NewRelay(env.store, env.svc, env.broadcast, utils.NewLogger())
	require.NoError(t, relay.Start())
	defer relay.Stop()

	event := models.PresenceEvent{
		Type:      models.EventJoin,
		HiveID:    "h1",
		UserID:    "u9",
		Timestamp: time.Now().UnixMilli(),
		Origin:    "another-instance",
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, env.store.Publish(ctx, presenceChannel, data))

	require.Eventually(t, func() bool {
		return len(env.broadcast.forDestination(models.HivePresenceTopic("h1"))) == 1
	}, time.Second, 5*time.Millisecond)

	payloads := env.broadcast.forDestination(models.HivePresenceTopic("h1"))
	info, ok := payloads[0].(*models.HivePresenceInfo)
	require.True(t, ok)
	require.Equal(t, "h1", info.HiveID)
}

func TestRelaySkipsOwnEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	relay := NewRelay(env.store, env.svc, env.broadcast, utils.NewLogger())
	require.NoError(t, relay.Start())
	defer relay.Stop()

	event := models.PresenceEvent{
		Type:   models.EventJoin,
		HiveID: "h1",
		UserID: "u1",
		Origin: env.svc.InstanceID(),
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, env.store.Publish(ctx, presenceChannel, data))

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, env.broadcast.forDestination(models.HivePresenceTopic("h1")))
}

func TestRelayReplaysForeignSessionEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	relay := NewRelay(env.store, env.svc, env.broadcast, utils.NewLogger())
	require.NoError(t, relay.Start())
	defer relay.Stop()

	event := models.SessionEvent{
		Type:      models.EventEnd,
		SessionID: "s1",
		UserID:    "u9",
		HiveID:    "h1",
		Origin:    "another-instance",
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, env.store.Publish(ctx, sessionChannel, data))

	require.Eventually(t, func() bool {
		return len(env.broadcast.forDestination(models.HiveSessionsTopic("h1"))) == 1
	}, time.Second, 5*time.Millisecond)

	payloads := env.broadcast.forDestination(models.HiveSessionsTopic("h1"))
	broadcast, ok := payloads[0].(models.SessionBroadcast)
	require.True(t, ok)
	require.Equal(t, models.BroadcastSessionEnded, broadcast.Type)
	require.Equal(t, "s1", broadcast.SessionID)
}
