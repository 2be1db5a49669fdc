package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/talim-live-api/internal/dto"
	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/repository"
	"github.com/noah-isme/talim-live-api/internal/store"
	appErrors "github.com/noah-isme/talim-live-api/pkg/errors"
)

type terminationSessionStore interface {
	Get(ctx context.Context, id string) (*models.Session, int64, error)
	Update(ctx context.Context, id string, baseVersion int64, updates ...store.FieldUpdate) error
}

type progressAppender interface {
	Get(ctx context.Context, classID, studentID string) (*models.StudentProgressRecord, int64, error)
	Append(ctx context.Context, record *models.StudentProgressRecord, baseVersion int64, history models.SessionHistory, assessment models.AssessmentRecord) error
}

type intentLog interface {
	Put(ctx context.Context, intent *repository.TerminationIntent) error
	Clear(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]*repository.TerminationIntent, error)
}

type classPointer interface {
	FindByID(ctx context.Context, id string) (*models.ClassRoom, error)
	ClearActiveSession(ctx context.Context, classID string) error
}

// TerminationService folds the ephemeral session snapshot plus teacher
// feedback into durable per-student history records. The session update and
// the per-student record appends are independent writes, so an intent log is
// written first and cleared last; Recover replays stale intents after a
// crash.
type TerminationService struct {
	sessions terminationSessionStore
	progress progressAppender
	classes  classPointer
	intents  intentLog
	logger   *zap.Logger
	now      func() time.Time
}

// NewTerminationService builds the aggregator.
func NewTerminationService(sessions terminationSessionStore, progress progressAppender, classes classPointer, intents intentLog, logger *zap.Logger) *TerminationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TerminationService{
		sessions: sessions,
		progress: progress,
		classes:  classes,
		intents:  intents,
		logger:   logger,
		now:      time.Now,
	}
}

// Terminate completes the session and appends history for every student
// present in the feedback payload. Students absent from the payload keep
// their cumulative records untouched.
func (s *TerminationService) Terminate(ctx context.Context, sessionID string, req dto.EndSessionRequest) (*models.Session, error) {
	session, version, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.ErrNoActiveSession
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if !session.Active() {
		return nil, appErrors.ErrNoActiveSession
	}

	feedback := NormalizeFeedback(req)
	intent := &repository.TerminationIntent{
		SessionID: sessionID,
		ClassID:   session.ClassID,
		Feedback:  feedback,
		CreatedAt: s.now().UTC(),
	}
	if err := s.intents.Put(ctx, intent); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreWrite.Code, appErrors.ErrStoreWrite.Status, err.Error())
	}

	if err := s.apply(ctx, session, version, feedback); err != nil {
		return nil, err
	}

	if err := s.intents.Clear(ctx, sessionID); err != nil {
		s.logger.Warn("failed to clear termination intent", zap.String("session_id", sessionID), zap.Error(err))
	}

	completed, _, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload session")
	}
	return completed, nil
}

// Recover replays terminations whose intent survived a crash. Sessions that
// already completed get the rest of the work finished: any per-student
// appends the crash cut short, the class pointer and the intent itself.
func (s *TerminationService) Recover(ctx context.Context) error {
	intents, err := s.intents.List(ctx)
	if err != nil {
		return fmt.Errorf("list termination intents: %w", err)
	}
	for _, intent := range intents {
		session, version, err := s.sessions.Get(ctx, intent.SessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				_ = s.intents.Clear(ctx, intent.SessionID)
				continue
			}
			return err
		}
		if session.Active() {
			s.logger.Info("replaying interrupted termination", zap.String("session_id", intent.SessionID))
			if err := s.apply(ctx, session, version, intent.Feedback); err != nil {
				return err
			}
		} else {
			// The completion update landed but the crash may have cut the
			// per-student appends short. Finish them with the completion
			// data already on the session document.
			s.logger.Info("finishing interrupted termination", zap.String("session_id", intent.SessionID))
			completedAt := s.now().UTC()
			if session.EndTime != nil {
				completedAt = *session.EndTime
			}
			displayID := session.DisplayID
			if displayID == "" {
				displayID = buildDisplayID(session.Book, completedAt, session.ID)
			}
			if err := s.finalize(ctx, session, intent.Feedback, displayID, completedAt); err != nil {
				return err
			}
		}
		if err := s.intents.Clear(ctx, intent.SessionID); err != nil {
			return err
		}
	}
	return nil
}

func (s *TerminationService) apply(ctx context.Context, session *models.Session, version int64, feedback *models.SessionFeedback) error {
	now := s.now().UTC()
	displayID := buildDisplayID(session.Book, now, session.ID)

	err := s.sessions.Update(ctx, session.ID, version,
		store.Set("status", models.SessionStatusCompleted),
		store.Set("endTime", now),
		store.Set("endPage", session.CurrentPage),
		store.Set("feedback", feedback),
		store.Set("displayId", displayID),
	)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrStoreWrite.Code, appErrors.ErrStoreWrite.Status, err.Error())
	}

	return s.finalize(ctx, session, feedback, displayID, now)
}

// finalize appends the durable per-student records and clears the class
// pointer. Appends skip students whose record already carries this session,
// so a replay never duplicates entries.
func (s *TerminationService) finalize(ctx context.Context, session *models.Session, feedback *models.SessionFeedback, displayID string, completedAt time.Time) error {
	class, err := s.classes.FindByID(ctx, session.ClassID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	courseID := ""
	if class != nil {
		courseID = class.CourseID
	}

	// Deterministic order so a replay after a partial failure walks the
	// same students again.
	studentIDs := make([]string, 0, len(feedback.Students))
	for id := range feedback.Students {
		studentIDs = append(studentIDs, id)
	}
	sort.Strings(studentIDs)

	for _, studentID := range studentIDs {
		fb := feedback.Students[studentID]
		record, recVersion, err := s.progress.Get(ctx, session.ClassID, studentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load progress record")
		}
		if hasSessionEntry(record, session.ID) {
			continue
		}
		record.CourseID = courseID

		history := models.SessionHistory{
			SessionID: session.ID,
			DisplayID: displayID,
			Date:      completedAt,
			Book:      session.Book,
			StartPage: session.StartPage,
			EndPage:   session.CurrentPage,
		}
		assessment := models.AssessmentRecord{
			SessionID:          session.ID,
			Date:               completedAt,
			Reading:            fb.Assessment.Reading,
			Pronunciation:      fb.Assessment.Pronunciation,
			Memorization:       fb.Assessment.Memorization,
			PageNotes:          fb.PageNotes,
			AreasOfImprovement: fb.AreasOfImprovement,
			Strengths:          fb.Strengths,
			Notes:              fb.Notes,
		}
		if err := s.progress.Append(ctx, record, recVersion, history, assessment); err != nil {
			return appErrors.Wrap(err, appErrors.ErrStoreWrite.Code, appErrors.ErrStoreWrite.Status, err.Error())
		}
	}

	return s.clearClassPointer(ctx, session)
}

func hasSessionEntry(record *models.StudentProgressRecord, sessionID string) bool {
	for _, entry := range record.Sessions {
		if entry.SessionID == sessionID {
			return true
		}
	}
	return false
}

func (s *TerminationService) clearClassPointer(ctx context.Context, session *models.Session) error {
	err := s.classes.ClearActiveSession(ctx, session.ClassID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return appErrors.Wrap(err, appErrors.ErrStoreWrite.Code, appErrors.ErrStoreWrite.Status, err.Error())
	}
	return nil
}

// NormalizeFeedback fills zero scores, empty maps and empty slices for every
// missing field so downstream aggregation never has to null-check.
func NormalizeFeedback(req dto.EndSessionRequest) *models.SessionFeedback {
	feedback := &models.SessionFeedback{
		ClassNotes: req.ClassNotes,
		Students:   map[string]models.StudentFeedback{},
	}
	for studentID, payload := range req.StudentFeedback {
		fb := models.StudentFeedback{
			Assessment: models.Assessment{
				Reading:       payload.Assessment.Reading,
				Pronunciation: payload.Assessment.Pronunciation,
				Memorization:  payload.Assessment.Memorization,
			},
			PageNotes:          payload.PageNotes,
			AreasOfImprovement: payload.AreasOfImprovement,
			Strengths:          payload.Strengths,
			Notes:              payload.Notes,
		}
		if fb.PageNotes == nil {
			fb.PageNotes = map[string]string{}
		}
		if fb.AreasOfImprovement == nil {
			fb.AreasOfImprovement = []string{}
		}
		if fb.Strengths == nil {
			fb.Strengths = []string{}
		}
		feedback.Students[studentID] = fb
	}
	return feedback
}

// buildDisplayID produces the human-readable session identifier from book,
// date and a session-id suffix. Cosmetic only, never used for lookups.
func buildDisplayID(book string, date time.Time, sessionID string) string {
	suffix := sessionID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return fmt.Sprintf("%s-%s-%s", book, date.Format("2006-01-02"), suffix)
}
