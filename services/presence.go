package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"focushive/presence-service/config"
	"focushive/presence-service/membership"
	"focushive/presence-service/models"
	"focushive/presence-service/storage"
	"focushive/presence-service/utils"
)

const (
	userPresenceKeyPrefix = "presence:user:"
	heartbeatKeyPrefix    = "presence:heartbeat:"
	hiveMembersKeyPrefix  = "presence:hive:members:"
	sessionKeyPrefix      = "presence:session:"
	hiveSessionsKeyPrefix = "presence:hive:sessions:"

	presenceChannel = "presence:updates"
	sessionChannel  = "presence:sessions"
)

var (
	// ErrNotHiveMember is returned when a user tries to join presence for a
	// hive they are not an authorized member of.
	ErrNotHiveMember = errors.New("user is not a member of this hive")

	// ErrSessionNotFound is returned when a session does not exist, has
	// expired, or was already ended.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotOwned is returned when a session belongs to another user.
	ErrSessionNotOwned = errors.New("session not owned by user")

	// ErrActiveSessionExists is returned when starting a session while the
	// user already has one running.
	ErrActiveSessionExists = errors.New("user already has an active session")
)

// Broadcaster delivers a payload to currently-connected subscribers of a
// destination. Delivery is best-effort: no queuing, no acknowledgment.
type Broadcaster interface {
	Publish(destination string, payload interface{})
	PublishToUser(userID string, payload interface{})
}

// PresenceService coordinates user presence, hive membership presence and
// focus sessions on top of the ephemeral store, and notifies subscribers
// through the broadcaster plus the store's pub/sub channels.
type PresenceService struct {
	store      storage.Store
	broadcast  Broadcaster
	membership membership.Authority
	logger     *utils.Logger

	instanceID       string
	heartbeatTimeout time.Duration
	offlineGrace     time.Duration
	sessionRetention time.Duration

	now func() time.Time
}

func NewPresenceService(store storage.Store, broadcast Broadcaster, authority membership.Authority, cfg *config.Config, logger *utils.Logger) *PresenceService {
	return &PresenceService{
		store:            store,
		broadcast:        broadcast,
		membership:       authority,
		logger:           logger,
		instanceID:       uuid.NewString(),
		heartbeatTimeout: cfg.HeartbeatTimeout,
		offlineGrace:     cfg.OfflineGrace,
		sessionRetention: cfg.SessionRetention,
		now:              time.Now,
	}
}

// InstanceID identifies this service instance in published events.
func (ps *PresenceService) InstanceID() string {
	return ps.instanceID
}

// UpdatePresence stores a fresh presence record for the user, refreshes the
// heartbeat marker and broadcasts the status change. Last write wins.
func (ps *PresenceService) UpdatePresence(ctx context.Context, userID string, update models.PresenceUpdate) (*models.UserPresence, error) {
	activity := update.Activity
	if activity == "" {
		activity = "Available"
	}

	presence := &models.UserPresence{
		UserID:        userID,
		Status:        update.Status,
		Activity:      activity,
		LastSeen:      ps.now(),
		CurrentHiveID: update.HiveID,
	}

	if err := ps.storePresence(ctx, presence); err != nil {
		return nil, err
	}

	if err := ps.storeHeartbeat(ctx, userID); err != nil {
		return nil, err
	}

	ps.broadcastPresenceUpdate(presence, update.HiveID)

	return presence, nil
}

// GetUserPresence returns the user's presence record, or nil if it has
// expired or never existed.
func (ps *PresenceService) GetUserPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	data, err := ps.store.Get(ctx, userPresenceKeyPrefix+userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get presence for %s: %w", userID, err)
	}

	var presence models.UserPresence
	if err := json.Unmarshal(data, &presence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence for %s: %w", userID, err)
	}

	return &presence, nil
}

// RecordHeartbeat refreshes the heartbeat marker and, if a full presence
// record still exists, its last-seen timestamp. The marker is a separate
// short-TTL key so the frequent liveness ping stays a cheap write.
func (ps *PresenceService) RecordHeartbeat(ctx context.Context, userID string) error {
	if err := ps.storeHeartbeat(ctx, userID); err != nil {
		return err
	}

	presence, err := ps.GetUserPresence(ctx, userID)
	if err != nil {
		return err
	}
	if presence != nil {
		presence.LastSeen = ps.now()
		if err := ps.storePresence(ctx, presence); err != nil {
			return err
		}
	}

	return nil
}

// JoinHive adds the user to the hive's presence set after verifying hive
// membership, publishes a JOIN event and broadcasts the updated aggregate.
func (ps *PresenceService) JoinHive(ctx context.Context, hiveID, userID string) (*models.HivePresenceInfo, error) {
	ps.logger.Info("User joining hive presence", "user_id", userID, "hive_id", hiveID)

	isMember, err := ps.membership.IsMember(ctx, hiveID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify hive membership: %w", err)
	}
	if !isMember {
		return nil, ErrNotHiveMember
	}

	if err := ps.store.SetAdd(ctx, hiveMembersKeyPrefix+hiveID, userID); err != nil {
		return nil, err
	}

	ps.publishPresenceEvent(ctx, models.EventJoin, hiveID, userID)

	info, err := ps.GetHivePresenceInfo(ctx, hiveID)
	if err != nil {
		return nil, err
	}

	ps.broadcast.Publish(models.HivePresenceTopic(hiveID), info)

	return info, nil
}

// LeaveHive removes the user from the hive's presence set, publishes a LEAVE
// event and broadcasts the updated aggregate.
func (ps *PresenceService) LeaveHive(ctx context.Context, hiveID, userID string) (*models.HivePresenceInfo, error) {
	ps.logger.Info("User leaving hive presence", "user_id", userID, "hive_id", hiveID)

	if err := ps.store.SetRemove(ctx, hiveMembersKeyPrefix+hiveID, userID); err != nil {
		return nil, err
	}

	ps.publishPresenceEvent(ctx, models.EventLeave, hiveID, userID)

	info, err := ps.GetHivePresenceInfo(ctx, hiveID)
	if err != nil {
		return nil, err
	}

	ps.broadcast.Publish(models.HivePresenceTopic(hiveID), info)

	return info, nil
}

// GetHiveActiveUsers returns the presence of every listed hive member that
// still has a live presence record. Members whose presence has expired are
// simply omitted.
func (ps *PresenceService) GetHiveActiveUsers(ctx context.Context, hiveID string) ([]models.UserPresence, error) {
	userIDs, err := ps.store.SetMembers(ctx, hiveMembersKeyPrefix+hiveID)
	if err != nil {
		return nil, err
	}

	activeUsers := make([]models.UserPresence, 0, len(userIDs))
	for _, userID := range userIDs {
		presence, err := ps.GetUserPresence(ctx, userID)
		if err != nil {
			ps.logger.Error("Failed to load member presence", "user_id", userID, "error", err)
			continue
		}
		if presence != nil {
			activeUsers = append(activeUsers, *presence)
		}
	}

	return activeUsers, nil
}

// GetHivePresenceInfo builds the aggregate presence snapshot for a hive.
func (ps *PresenceService) GetHivePresenceInfo(ctx context.Context, hiveID string) (*models.HivePresenceInfo, error) {
	activeUsers, err := ps.GetHiveActiveUsers(ctx, hiveID)
	if err != nil {
		return nil, err
	}

	sessions, err := ps.GetHiveSessions(ctx, hiveID)
	if err != nil {
		return nil, err
	}

	focusing := 0
	for _, session := range sessions {
		if session.Status == models.SessionStatusActive {
			focusing++
		}
	}

	return &models.HivePresenceInfo{
		HiveID:           hiveID,
		ActiveUsers:      len(activeUsers),
		FocusingSessions: focusing,
		OnlineMembers:    activeUsers,
		LastActivity:     ps.now().UnixMilli(),
	}, nil
}

// GetHivesPresenceInfo returns aggregate snapshots for several hives at once.
func (ps *PresenceService) GetHivesPresenceInfo(ctx context.Context, hiveIDs []string) (map[string]*models.HivePresenceInfo, error) {
	result := make(map[string]*models.HivePresenceInfo, len(hiveIDs))
	for _, hiveID := range hiveIDs {
		info, err := ps.GetHivePresenceInfo(ctx, hiveID)
		if err != nil {
			return nil, err
		}
		result[hiveID] = info
	}
	return result, nil
}

// StartFocusSession creates a new focus session for the user. A user can only
// run one session at a time; starting while one is active is rejected rather
// than silently orphaning the previous session.
func (ps *PresenceService) StartFocusSession(ctx context.Context, userID, hiveID string, durationMinutes int, sessionType models.SessionType) (*models.FocusSession, error) {
	ps.logger.Info("Starting focus session", "user_id", userID, "hive_id", hiveID, "duration_minutes", durationMinutes)

	active, err := ps.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ErrActiveSessionExists
	}

	if sessionType == "" {
		sessionType = models.SessionTypeFocus
	}

	session := &models.FocusSession{
		SessionID:              uuid.NewString(),
		UserID:                 userID,
		HiveID:                 hiveID,
		StartTime:              ps.now(),
		PlannedDurationMinutes: durationMinutes,
		Type:                   sessionType,
		Status:                 models.SessionStatusActive,
	}

	// TTL is twice the planned duration as a safety margin
	ttl := 2 * time.Duration(durationMinutes) * time.Minute

	if err := ps.storeSession(ctx, session, ttl); err != nil {
		return nil, err
	}

	if err := ps.store.Set(ctx, userSessionKey(userID), []byte(session.SessionID), ttl); err != nil {
		return nil, err
	}

	if hiveID != "" {
		if err := ps.store.SetAdd(ctx, hiveSessionsKeyPrefix+hiveID, session.SessionID); err != nil {
			return nil, err
		}
	}

	ps.publishSessionEvent(ctx, models.EventStart, session)

	ps.setPresenceSessionFlag(ctx, userID, true)

	if hiveID != "" {
		ps.broadcast.Publish(models.HiveSessionsTopic(hiveID), models.SessionBroadcast{
			SessionID: session.SessionID,
			UserID:    userID,
			HiveID:    hiveID,
			Type:      models.BroadcastSessionStarted,
			Session:   session,
		})
	}

	return session, nil
}

// EndFocusSession completes the session, records the actual duration and
// keeps the completed record around briefly for late retrieval. The user to
// session pointer is claimed atomically so two concurrent end calls cannot
// both complete the same session.
func (ps *PresenceService) EndFocusSession(ctx context.Context, userID, sessionID string) (*models.FocusSession, error) {
	ps.logger.Info("Ending focus session", "session_id", sessionID, "user_id", userID)

	session, err := ps.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Status == models.SessionStatusCompleted {
		return nil, ErrSessionNotFound
	}
	if session.UserID != userID {
		return nil, ErrSessionNotOwned
	}

	claimed, err := ps.store.GetDel(ctx, userSessionKey(userID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err != nil || string(claimed) != sessionID {
		// Another call got here first
		return nil, ErrSessionNotFound
	}

	endTime := ps.now()
	session.EndTime = &endTime
	session.Status = models.SessionStatusCompleted
	session.ActualDurationMinutes = int(endTime.Sub(session.StartTime).Round(time.Minute).Minutes())

	if err := ps.storeSession(ctx, session, ps.sessionRetention); err != nil {
		return nil, err
	}

	if session.HiveID != "" {
		if err := ps.store.SetRemove(ctx, hiveSessionsKeyPrefix+session.HiveID, sessionID); err != nil {
			ps.logger.Error("Failed to remove session from hive set", "session_id", sessionID, "hive_id", session.HiveID, "error", err)
		}
	}

	ps.publishSessionEvent(ctx, models.EventEnd, session)

	ps.setPresenceSessionFlag(ctx, userID, false)

	if session.HiveID != "" {
		ps.broadcast.Publish(models.HiveSessionsTopic(session.HiveID), models.SessionBroadcast{
			SessionID: sessionID,
			UserID:    userID,
			HiveID:    session.HiveID,
			Type:      models.BroadcastSessionEnded,
			Session:   session,
		})
	}

	return session, nil
}

// GetActiveSession resolves the user's session pointer. Returns nil without
// error when the pointer or the session record has expired.
func (ps *PresenceService) GetActiveSession(ctx context.Context, userID string) (*models.FocusSession, error) {
	data, err := ps.store.Get(ctx, userSessionKey(userID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return ps.GetSession(ctx, string(data))
}

// GetSession loads a session by id. Returns nil without error if it expired.
func (ps *PresenceService) GetSession(ctx context.Context, sessionID string) (*models.FocusSession, error) {
	data, err := ps.store.Get(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}

	var session models.FocusSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}

	return &session, nil
}

// GetHiveSessions returns the sessions registered in the hive's session set,
// skipping and pruning any whose record has already expired.
func (ps *PresenceService) GetHiveSessions(ctx context.Context, hiveID string) ([]models.FocusSession, error) {
	sessionIDs, err := ps.store.SetMembers(ctx, hiveSessionsKeyPrefix+hiveID)
	if err != nil {
		return nil, err
	}

	sessions := make([]models.FocusSession, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		session, err := ps.GetSession(ctx, sessionID)
		if err != nil {
			ps.logger.Error("Failed to load hive session", "session_id", sessionID, "error", err)
			continue
		}
		if session == nil {
			// Expired entry, repair the set
			if err := ps.store.SetRemove(ctx, hiveSessionsKeyPrefix+hiveID, sessionID); err != nil {
				ps.logger.Error("Failed to prune expired session", "session_id", sessionID, "error", err)
			}
			continue
		}
		sessions = append(sessions, *session)
	}

	return sessions, nil
}

// SweepStalePresence evicts presence records whose heartbeat marker is gone
// and whose last-seen is past the heartbeat timeout, cascading a hive leave
// for each evicted user. One user's failure never aborts the batch. Returns
// the number of evicted records.
func (ps *PresenceService) SweepStalePresence(ctx context.Context) int {
	keys, err := ps.store.ScanKeys(ctx, userPresenceKeyPrefix+"*")
	if err != nil {
		ps.logger.Error("Failed to scan presence keys", "error", err)
		return 0
	}

	staleThreshold := ps.now().Add(-ps.heartbeatTimeout)
	evicted := 0

	for _, key := range keys {
		userID := strings.TrimPrefix(key, userPresenceKeyPrefix)
		if strings.Contains(userID, ":") {
			// Session pointer keys share the presence:user: prefix
			continue
		}

		// The heartbeat marker is authoritative for liveness: as long as it
		// has not expired the user is alive, whatever last-seen says.
		if _, err := ps.store.Get(ctx, heartbeatKeyPrefix+userID); err == nil {
			continue
		}

		presence, err := ps.GetUserPresence(ctx, userID)
		if err != nil {
			ps.logger.Error("Failed to load presence during sweep", "user_id", userID, "error", err)
			continue
		}
		if presence == nil || !presence.LastSeen.Before(staleThreshold) {
			continue
		}

		ps.logger.Info("Removing stale presence", "user_id", userID)

		if err := ps.store.Delete(ctx, key); err != nil {
			ps.logger.Error("Failed to delete stale presence", "user_id", userID, "error", err)
			continue
		}
		if err := ps.store.Delete(ctx, heartbeatKeyPrefix+userID); err != nil {
			ps.logger.Error("Failed to delete heartbeat marker", "user_id", userID, "error", err)
		}

		if presence.CurrentHiveID != "" {
			if _, err := ps.LeaveHive(ctx, presence.CurrentHiveID, userID); err != nil {
				ps.logger.Error("Failed to cascade hive leave", "user_id", userID, "hive_id", presence.CurrentHiveID, "error", err)
			}
		}

		evicted++
	}

	return evicted
}

// MarkOffline is the explicit disconnect path: it flips the status to
// OFFLINE, keeps the record for a short grace window so the final broadcast
// can propagate, cascades a hive leave, force-ends any active session and
// then deletes the record.
func (ps *PresenceService) MarkOffline(ctx context.Context, userID string) error {
	ps.logger.Info("Marking user offline", "user_id", userID)

	presence, err := ps.GetUserPresence(ctx, userID)
	if err != nil {
		return err
	}
	if presence == nil {
		return nil
	}

	presence.Status = models.StatusOffline
	presence.LastSeen = ps.now()

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence for %s: %w", userID, err)
	}
	if err := ps.store.Set(ctx, userPresenceKeyPrefix+userID, data, ps.offlineGrace); err != nil {
		return err
	}

	if presence.CurrentHiveID != "" {
		if _, err := ps.LeaveHive(ctx, presence.CurrentHiveID, userID); err != nil {
			ps.logger.Error("Failed to leave hive on disconnect", "user_id", userID, "hive_id", presence.CurrentHiveID, "error", err)
		}
	}

	active, err := ps.GetActiveSession(ctx, userID)
	if err != nil {
		return err
	}
	if active != nil {
		if _, err := ps.EndFocusSession(ctx, userID, active.SessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			ps.logger.Error("Failed to end session on disconnect", "user_id", userID, "session_id", active.SessionID, "error", err)
		}
	}

	ps.broadcastPresenceUpdate(presence, presence.CurrentHiveID)

	if err := ps.store.Delete(ctx, userPresenceKeyPrefix+userID); err != nil {
		return err
	}
	if err := ps.store.Delete(ctx, heartbeatKeyPrefix+userID); err != nil {
		ps.logger.Error("Failed to delete heartbeat marker", "user_id", userID, "error", err)
	}

	return nil
}

// Helper methods

func userSessionKey(userID string) string {
	return userPresenceKeyPrefix + userID + ":session"
}

func (ps *PresenceService) storePresence(ctx context.Context, presence *models.UserPresence) error {
	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence for %s: %w", presence.UserID, err)
	}
	return ps.store.Set(ctx, userPresenceKeyPrefix+presence.UserID, data, 2*ps.heartbeatTimeout)
}

func (ps *PresenceService) storeHeartbeat(ctx context.Context, userID string) error {
	millis := strconv.FormatInt(ps.now().UnixMilli(), 10)
	return ps.store.Set(ctx, heartbeatKeyPrefix+userID, []byte(millis), ps.heartbeatTimeout)
}

func (ps *PresenceService) storeSession(ctx context.Context, session *models.FocusSession, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.SessionID, err)
	}
	return ps.store.Set(ctx, sessionKeyPrefix+session.SessionID, data, ttl)
}

// setPresenceSessionFlag flips the in-focus-session flag on the presence
// record if one exists. Missing presence is fine; the flag is advisory.
func (ps *PresenceService) setPresenceSessionFlag(ctx context.Context, userID string, inSession bool) {
	presence, err := ps.GetUserPresence(ctx, userID)
	if err != nil {
		ps.logger.Error("Failed to load presence for session flag", "user_id", userID, "error", err)
		return
	}
	if presence == nil {
		return
	}
	presence.InFocusSession = inSession
	if err := ps.storePresence(ctx, presence); err != nil {
		ps.logger.Error("Failed to update session flag", "user_id", userID, "error", err)
	}
}

func (ps *PresenceService) broadcastPresenceUpdate(presence *models.UserPresence, hiveID string) {
	broadcast := models.PresenceBroadcast{
		UserID:   presence.UserID,
		Status:   presence.Status,
		Activity: presence.Activity,
		HiveID:   hiveID,
		Type:     models.BroadcastStatusChanged,
	}

	if hiveID != "" {
		ps.broadcast.Publish(models.HivePresenceTopic(hiveID), broadcast)
	}

	// Also echo to the user's private queue
	ps.broadcast.PublishToUser(presence.UserID, broadcast)
}

func (ps *PresenceService) publishPresenceEvent(ctx context.Context, eventType models.EventType, hiveID, userID string) {
	event := models.PresenceEvent{
		Type:      eventType,
		HiveID:    hiveID,
		UserID:    userID,
		Timestamp: ps.now().UnixMilli(),
		Origin:    ps.instanceID,
	}

	data, err := json.Marshal(event)
	if err != nil {
		ps.logger.Error("Failed to marshal presence event", "error", err)
		return
	}
	if err := ps.store.Publish(ctx, presenceChannel, data); err != nil {
		ps.logger.Error("Failed to publish presence event", "error", err)
	}
}

func (ps *PresenceService) publishSessionEvent(ctx context.Context, eventType models.EventType, session *models.FocusSession) {
	event := models.SessionEvent{
		Type:      eventType,
		SessionID: session.SessionID,
		UserID:    session.UserID,
		HiveID:    session.HiveID,
		Timestamp: ps.now().UnixMilli(),
		Origin:    ps.instanceID,
	}

	data, err := json.Marshal(event)
	if err != nil {
		ps.logger.Error("Failed to marshal session event", "error", err)
		return
	}
	if err := ps.store.Publish(ctx, sessionChannel, data); err != nil {
		ps.logger.Error("Failed to publish session event", "error", err)
	}
}
