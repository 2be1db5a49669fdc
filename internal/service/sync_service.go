package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/ws"
)

type sessionWatcher interface {
	Subscribe(id string, fn func(*models.Session, int64)) func()
}

type fanoutMetrics interface {
	SnapshotFanout(recipients int, duration time.Duration)
}

// SnapshotMessage is the frame pushed to every attached client whenever the
// session document changes.
type SnapshotMessage struct {
	Type    string          `json:"type"`
	Version int64           `json:"version"`
	Session *models.Session `json:"session"`
}

const (
	snapshotTypeUpdate    = "session_snapshot"
	snapshotTypeCompleted = "session_completed"
)

type sessionFeed struct {
	cancel  func()
	clients map[*ws.Conn]struct{}
}

// SyncService bridges store subscriptions to websocket clients. One store
// subscription is held per session regardless of how many clients attached;
// the feed is torn down when the last client leaves or the session completes.
type SyncService struct {
	watcher  sessionWatcher
	registry *ws.Registry
	metrics  fanoutMetrics
	logger   *zap.Logger

	mu    sync.Mutex
	feeds map[string]*sessionFeed
}

// NewSyncService builds the fanout bridge. metrics may be nil.
func NewSyncService(watcher sessionWatcher, registry *ws.Registry, metrics fanoutMetrics, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		watcher:  watcher,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		feeds:    make(map[string]*sessionFeed),
	}
}

// Attach registers the connection for snapshot delivery and opens the
// session's store subscription if this is the first client.
func (s *SyncService) Attach(conn *ws.Conn) {
	s.registry.Register(conn)

	s.mu.Lock()
	feed, ok := s.feeds[conn.SessionID()]
	if !ok {
		sessionID := conn.SessionID()
		feed = &sessionFeed{clients: map[*ws.Conn]struct{}{}}
		feed.cancel = s.watcher.Subscribe(sessionID, func(session *models.Session, version int64) {
			s.fanout(sessionID, session, version)
		})
		s.feeds[sessionID] = feed
		s.logger.Debug("opened session feed", zap.String("session_id", sessionID))
	}
	feed.clients[conn] = struct{}{}
	s.mu.Unlock()
}

// Detach unregisters the connection and closes the feed when it was the last
// client. A connection dropped by the fanout loop is detached again by its
// read loop, so membership is tracked per connection and a repeat detach is
// a no-op.
func (s *SyncService) Detach(conn *ws.Conn) {
	s.registry.Unregister(conn)

	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[conn.SessionID()]
	if !ok {
		return
	}
	if _, member := feed.clients[conn]; !member {
		return
	}
	delete(feed.clients, conn)
	if len(feed.clients) == 0 {
		feed.cancel()
		delete(s.feeds, conn.SessionID())
		s.logger.Debug("closed session feed", zap.String("session_id", conn.SessionID()))
	}
}

func (s *SyncService) fanout(sessionID string, session *models.Session, version int64) {
	msg := SnapshotMessage{
		Type:    snapshotTypeUpdate,
		Version: version,
		Session: session,
	}
	if !session.Active() {
		msg.Type = snapshotTypeCompleted
	}

	started := time.Now()
	conns := s.registry.SessionConns(sessionID)
	for _, conn := range conns {
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Warn("snapshot delivery failed, dropping client",
				zap.String("session_id", sessionID),
				zap.String("user_id", conn.UserID()),
				zap.Error(err))
			conn.Close()
			s.Detach(conn)
		}
	}
	if s.metrics != nil {
		s.metrics.SnapshotFanout(len(conns), time.Since(started))
	}

	// A completed session gets one final frame, then the feed shuts down
	// and clients are disconnected.
	if !session.Active() {
		s.closeSession(sessionID)
	}
}

func (s *SyncService) closeSession(sessionID string) {
	s.mu.Lock()
	if feed, ok := s.feeds[sessionID]; ok {
		feed.cancel()
		delete(s.feeds, sessionID)
	}
	s.mu.Unlock()

	for _, conn := range s.registry.SessionConns(sessionID) {
		conn.Close()
		s.registry.Unregister(conn)
	}
}

// Stats exposes registry counters for the health endpoint.
func (s *SyncService) Stats() map[string]int {
	stats := s.registry.Stats()
	s.mu.Lock()
	stats["feeds"] = len(s.feeds)
	s.mu.Unlock()
	return stats
}
