// Package sse implements the in-memory SSE session manager: one bounded
// channel per registered protocol stream, a reverse index from user to
// session set for notification fan-out, and a dedicated notification
// channel per user kept separate from protocol traffic so OAuth callbacks
// never contend with RPC responses. Grounded on
// internal/ratelimit.Limiter's mutex-guarded-map idiom for the session
// tables and on the teacher's pkg/jobx worker-pool shutdown pattern for
// the cleanup sweeper's ticking goroutine.
package sse

import (
	"context"
	"sync"
	"time"

	"github.com/pierre-mcp/pierre/internal/auth"
	"github.com/pierre-mcp/pierre/pkg/errx"
	"github.com/pierre-mcp/pierre/pkg/kernel"
	"github.com/pierre-mcp/pierre/pkg/logx"
)

var ErrRegistry = errx.NewRegistry("SSE")

var (
	codeNoSessions   = ErrRegistry.Register("no_sessions", errx.TypeNotFound, 404, "user has no active SSE sessions")
	codeInvalidToken = ErrRegistry.Register("invalid_token", errx.TypeAuthorization, 401, "invalid or expired SSE auth token")
)

// EventKind enumerates the SSE wire event kinds.
type EventKind string

const (
	EventResponse     EventKind = "response"
	EventNotification EventKind = "notification"
	EventError        EventKind = "error"
	EventConnected    EventKind = "connected"
	EventPing         EventKind = "ping"
)

// Event is one SSE frame, serialized as "event: <kind>\ndata: <json>\n\n".
type Event struct {
	Kind EventKind
	Data any
}

const channelBufferSize = 100

// protocolSession backs one registered MCP/A2A protocol stream.
type protocolSession struct {
	id           string
	userID       kernel.UserID
	ch           chan Event
	lastActivity time.Time
}

// Manager owns every live SSE session table. One instance is shared
// process-wide; multi-node fan-out is handled by an optional Broadcaster
// (Redis pub/sub) wired in via WithBroadcaster.
type Manager struct {
	mu sync.Mutex

	protocolStreams     map[string]*protocolSession    // session_id -> session
	userSessions        map[kernel.UserID]map[string]struct{} // user_id -> session_id set
	notificationStreams map[kernel.UserID]chan Event

	authMgr     *auth.Manager
	broadcaster Broadcaster
}

// Broadcaster fans a notification out to other Pierre nodes (Redis
// pub/sub in production); the local Manager always delivers to its own
// sessions first regardless of whether one is configured.
type Broadcaster interface {
	Publish(ctx context.Context, userID kernel.UserID, evt Event) error
	Subscribe(ctx context.Context, deliver func(userID kernel.UserID, evt Event)) error
}

func NewManager(authMgr *auth.Manager) *Manager {
	return &Manager{
		protocolStreams:     make(map[string]*protocolSession),
		userSessions:        make(map[kernel.UserID]map[string]struct{}),
		notificationStreams: make(map[kernel.UserID]chan Event),
		authMgr:             authMgr,
	}
}

func (m *Manager) WithBroadcaster(b Broadcaster) *Manager {
	m.broadcaster = b
	return m
}

// RegisterProtocolStream authenticates authToken, allocates a bounded
// channel for sessionID, and inserts it into both protocolStreams and
// userSessions under a single critical section — the atomicity invariant
// unregister_protocol_stream must preserve on the way back out.
func (m *Manager) RegisterProtocolStream(ctx context.Context, sessionID, authToken string) (<-chan Event, error) {
	claims, err := m.authMgr.ValidateToken(ctx, authToken)
	if err != nil {
		return nil, ErrRegistry.NewWithCause(codeInvalidToken, err)
	}

	ch := make(chan Event, channelBufferSize)
	sess := &protocolSession{id: sessionID, userID: claims.UserID, ch: ch, lastActivity: time.Now()}

	m.mu.Lock()
	m.protocolStreams[sessionID] = sess
	if _, ok := m.userSessions[claims.UserID]; !ok {
		m.userSessions[claims.UserID] = make(map[string]struct{})
	}
	m.userSessions[claims.UserID][sessionID] = struct{}{}
	m.mu.Unlock()

	ch <- Event{Kind: EventConnected, Data: map[string]string{"session_id": sessionID}}
	return ch, nil
}

// UnregisterProtocolStream removes sessionID from protocolStreams and
// scrubs it from userSessions, deleting the user's entry entirely once
// its session set is empty. Both maps are updated under one lock so no
// observer ever sees one without the other — the invariant the spec
// explicitly calls out as regression-tested.
func (m *Manager) UnregisterProtocolStream(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.protocolStreams[sessionID]
	if !ok {
		return
	}
	delete(m.protocolStreams, sessionID)
	close(sess.ch)

	set, ok := m.userSessions[sess.userID]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(m.userSessions, sess.userID)
	}
}

// SendToSession delivers evt to one protocol session's channel,
// non-blocking: a full channel drops the event rather than stalling the
// producer.
func (m *Manager) SendToSession(sessionID string, evt Event) bool {
	m.mu.Lock()
	sess, ok := m.protocolStreams[sessionID]
	if ok {
		sess.lastActivity = time.Now()
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case sess.ch <- evt:
		return true
	default:
		logx.WithField("session_id", sessionID).Warn("sse protocol channel full, dropping event")
		return false
	}
}

// SendNotification fans evt out to every protocol session owned by
// userID, best-effort per session, and to the user's dedicated
// notification channel if one is registered. Returns an error if the
// user has no sessions of either kind.
func (m *Manager) SendNotification(ctx context.Context, userID kernel.UserID, evt Event) error {
	delivered := m.deliverLocal(userID, evt)
	if m.broadcaster != nil {
		if err := m.broadcaster.Publish(ctx, userID, evt); err != nil {
			logx.WithError(err).Warn("sse broadcaster publish failed")
		}
	}
	if !delivered {
		return ErrRegistry.New(codeNoSessions).WithDetail("user_id", userID.String())
	}
	return nil
}

func (m *Manager) deliverLocal(userID kernel.UserID, evt Event) bool {
	m.mu.Lock()
	sessionIDs := make([]string, 0, len(m.userSessions[userID]))
	for id := range m.userSessions[userID] {
		sessionIDs = append(sessionIDs, id)
	}
	notifCh, hasNotifCh := m.notificationStreams[userID]
	m.mu.Unlock()

	delivered := false
	for _, id := range sessionIDs {
		if m.SendToSession(id, evt) {
			delivered = true
		}
	}
	if hasNotifCh {
		select {
		case notifCh <- evt:
			delivered = true
		default:
			logx.WithField("user_id", userID.String()).Warn("sse notification channel full, dropping event")
		}
	}
	return delivered
}

// RegisterNotificationStream opens the dedicated, protocol-traffic-free
// channel OAuth callback notifications fan out on.
func (m *Manager) RegisterNotificationStream(userID kernel.UserID) <-chan Event {
	ch := make(chan Event, channelBufferSize)
	m.mu.Lock()
	m.notificationStreams[userID] = ch
	m.mu.Unlock()
	return ch
}

func (m *Manager) UnregisterNotificationStream(userID kernel.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.notificationStreams[userID]; ok {
		close(ch)
		delete(m.notificationStreams, userID)
	}
}

// NotifyUser adapts Manager to oauth2client.Notifier without oauth2client
// needing to import this package.
func (m *Manager) NotifyUser(ctx context.Context, userID kernel.UserID, _ kernel.TenantID, kind kernel.NotificationKind, detail map[string]any) error {
	return m.SendNotification(ctx, userID, Event{Kind: EventNotification, Data: map[string]any{"kind": kind, "detail": detail}})
}

// CleanupInactive removes protocol sessions whose last activity exceeds
// maxIdle. cmd/container.go calls it every SSE CleanupInterval from a
// ticker goroutine.
func (m *Manager) CleanupInactive(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var stale []string
	for id, sess := range m.protocolStreams {
		if sess.lastActivity.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.UnregisterProtocolStream(id)
	}
	return len(stale)
}
