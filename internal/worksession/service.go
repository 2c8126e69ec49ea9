package worksession

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thecodeguy777/jlr-dashboard/internal/db"
	"github.com/thecodeguy777/jlr-dashboard/internal/syncq"
)

var (
	ErrMissingDriver   = errors.New("driver id required")
	ErrSessionActive   = errors.New("driver already has an active session")
	ErrNoActiveSession = errors.New("no active session for driver")
)

type Enqueuer interface {
	Enqueue(ctx context.Context, driverID, collection string, op syncq.Operation, payload any) (syncq.Item, error)
}

// Service owns the one-active-session-per-driver rule. Sessions are
// written through the sync queue so clock-in and clock-out survive
// connectivity gaps.
type Service struct {
	db     db.Querier
	queue  Enqueuer
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]Session
}

func NewService(q db.Querier, queue Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: q, queue: queue, logger: logger, active: map[string]Session{}}
}

// ClockIn opens a session. A second clock-in for the same driver is
// rejected with ErrSessionActive and mutates nothing. The remote check
// catches sessions left open by a previous process; if the remote is
// unreachable the in-memory guard alone decides, so an offline driver
// can still start a shift.
func (s *Service) ClockIn(ctx context.Context, driverID string, lat, lng float64, at time.Time) (Session, error) {
	if driverID == "" {
		return Session{}, ErrMissingDriver
	}

	s.mu.Lock()
	_, exists := s.active[driverID]
	s.mu.Unlock()
	if exists {
		return Session{}, ErrSessionActive
	}

	remote, found, err := s.remoteActive(ctx, driverID)
	if err != nil {
		s.logger.Warn("active-session check unavailable", "driver_id", driverID, "error", err)
	} else if found {
		// A shift left open by a previous process: re-attach it so
		// clock-out and status keep working, and reject the duplicate.
		s.Adopt(remote)
		return Session{}, ErrSessionActive
	}

	session := Session{
		ID:             uuid.NewString(),
		DriverID:       driverID,
		StartTime:      at.UTC(),
		StartLatitude:  lat,
		StartLongitude: lng,
		Status:         StatusActive,
	}
	if _, err := s.queue.Enqueue(ctx, driverID, "work_sessions", syncq.OpInsert, session); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	s.active[driverID] = session
	s.mu.Unlock()

	s.logger.Info("driver clocked in", "driver_id", driverID, "session_id", session.ID)
	return session, nil
}

// ClockOut closes the driver's active session exactly once. Without an
// active session it returns ErrNoActiveSession and mutates nothing.
func (s *Service) ClockOut(ctx context.Context, driverID string, lat, lng float64, at time.Time) (Session, error) {
	if driverID == "" {
		return Session{}, ErrMissingDriver
	}

	s.mu.Lock()
	session, ok := s.active[driverID]
	s.mu.Unlock()
	if !ok {
		// A restart drops the in-memory map while the shift stays open
		// at the remote store. Re-attach and close that one.
		remote, found, err := s.remoteActive(ctx, driverID)
		if err != nil || !found {
			return Session{}, ErrNoActiveSession
		}
		s.Adopt(remote)
		session = remote
	}

	end := at.UTC()
	session.EndTime = &end
	session.EndLatitude = &lat
	session.EndLongitude = &lng
	session.Status = StatusCompleted

	closing := map[string]any{
		"id":            session.ID,
		"end_time":      end,
		"end_latitude":  lat,
		"end_longitude": lng,
		"status":        StatusCompleted,
	}
	if _, err := s.queue.Enqueue(ctx, driverID, "work_sessions", syncq.OpUpdate, closing); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	delete(s.active, driverID)
	s.mu.Unlock()

	s.logger.Info("driver clocked out", "driver_id", driverID, "session_id", session.ID)
	return session, nil
}

// remoteActive looks up the driver's open session at the remote store.
func (s *Service) remoteActive(ctx context.Context, driverID string) (Session, bool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, start_time, start_latitude, start_longitude
		FROM work_sessions
		WHERE driver_id = $1 AND status = 'active'
		ORDER BY start_time DESC
		LIMIT 1
	`, driverID)
	if err != nil {
		return Session{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return Session{}, false, rows.Err()
	}
	session := Session{DriverID: driverID, Status: StatusActive}
	if err := rows.Scan(&session.ID, &session.StartTime, &session.StartLatitude, &session.StartLongitude); err != nil {
		return Session{}, false, err
	}
	return session, true, nil
}

// Active returns the driver's open session, if any.
func (s *Service) Active(driverID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.active[driverID]
	return session, ok
}

// Adopt registers an already-open session, used when the engine resumes
// a shift found at the remote store after a restart.
func (s *Service) Adopt(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[session.DriverID] = session
}
