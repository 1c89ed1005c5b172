package services

import (
	"context"
	"encoding/json"
	"sync"

	"focushive/presence-service/models"
	"focushive/presence-service/storage"
	"focushive/presence-service/utils"
)

// Relay subscribes to the store's pub/sub channels and replays events to this
// instance's locally connected subscribers. Instances behind a load balancer
// share the ephemeral store but not each other's live connections, so each
// one re-broadcasts the events the others publish. Events originating from
// this instance are skipped because they were already broadcast directly.
type Relay struct {
	store     storage.Store
	service   *PresenceService
	broadcast Broadcaster
	logger    *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRelay(store storage.Store, service *PresenceService, broadcast Broadcaster, logger *utils.Logger) *Relay {
	ctx, cancel := context.WithCancel(context.Background())

	return &Relay{
		store:     store,
		service:   service,
		broadcast: broadcast,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the presence and session channels and begins relaying.
func (r *Relay) Start() error {
	messages, err := r.store.Subscribe(r.ctx, presenceChannel, sessionChannel)
	if err != nil {
		return err
	}

	r.logger.Info("Starting presence relay", "instance_id", r.service.InstanceID())

	r.wg.Add(1)
	go r.run(messages)

	return nil
}

// Stop shuts the relay down.
func (r *Relay) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("Presence relay stopped")
}

func (r *Relay) run(messages <-chan storage.Message) {
	defer r.wg.Done()

	for msg := range messages {
		switch msg.Channel {
		case presenceChannel:
			r.handlePresenceEvent(msg.Payload)
		case sessionChannel:
			r.handleSessionEvent(msg.Payload)
		}
	}
}

func (r *Relay) handlePresenceEvent(payload []byte) {
	var event models.PresenceEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		r.logger.Error("Failed to parse presence event", "error", err)
		return
	}
	if event.Origin == r.service.InstanceID() {
		return
	}

	info, err := r.service.GetHivePresenceInfo(r.ctx, event.HiveID)
	if err != nil {
		r.logger.Error("Failed to build hive presence info for relay", "hive_id", event.HiveID, "error", err)
		return
	}

	r.broadcast.Publish(models.HivePresenceTopic(event.HiveID), info)
}

func (r *Relay) handleSessionEvent(payload []byte) {
	var event models.SessionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		r.logger.Error("Failed to parse session event", "error", err)
		return
	}
	if event.Origin == r.service.InstanceID() {
		return
	}
	if event.HiveID == "" {
		return
	}

	broadcastType := models.BroadcastSessionStarted
	if event.Type == models.EventEnd {
		broadcastType = models.BroadcastSessionEnded
	}

	// Best effort: the session record may already have expired
	session, err := r.service.GetSession(r.ctx, event.SessionID)
	if err != nil {
		r.logger.Error("Failed to load session for relay", "session_id", event.SessionID, "error", err)
	}

	r.broadcast.Publish(models.HiveSessionsTopic(event.HiveID), models.SessionBroadcast{
		SessionID: event.SessionID,
		UserID:    event.UserID,
		HiveID:    event.HiveID,
		Type:      broadcastType,
		Session:   session,
	})
}
