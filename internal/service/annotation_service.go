package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/talim-live-api/internal/dto"
	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/store"
	"github.com/noah-isme/talim-live-api/pkg/config"
	appErrors "github.com/noah-isme/talim-live-api/pkg/errors"
	"github.com/noah-isme/talim-live-api/pkg/jobs"
)

type drawingStore interface {
	Append(ctx context.Context, drawing *models.Drawing) (string, error)
	Latest(ctx context.Context, classID, book string, page int, studentID string) (*models.Drawing, error)
	History(ctx context.Context, classID, book string, page int, studentID string, limit int) ([]*models.Drawing, error)
	Compact(ctx context.Context, classID, book string, page int, studentID string, keep int) (int, error)
	Tuples(ctx context.Context, classID string) ([]models.Drawing, error)
}

type annotationSessionReader interface {
	Get(ctx context.Context, id string) (*models.Session, int64, error)
}

type classLister interface {
	List(ctx context.Context) ([]*models.ClassRoom, error)
}

type compactPayload struct {
	ClassID   string
	Book      string
	Page      int
	StudentID string
}

// AnnotationService persists freehand drawing overlays. Saves are append-only
// events keyed by (class, book, page, student); a background job trims each
// tuple's history down to the configured keep count.
type AnnotationService struct {
	drawings  drawingStore
	sessions  annotationSessionReader
	cfg       config.SessionsConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time

	compactor *jobs.Queue
}

// NewAnnotationService builds the service and its compaction queue. Call
// StartCompaction to begin processing.
func NewAnnotationService(drawings drawingStore, sessions annotationSessionReader, cfg config.SessionsConfig, validate *validator.Validate, logger *zap.Logger) *AnnotationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AnnotationService{
		drawings:  drawings,
		sessions:  sessions,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
	s.compactor = jobs.NewQueue("drawing-compaction", s.handleCompaction, jobs.QueueConfig{
		Workers: 2,
		Logger:  logger,
	})
	return s
}

// StartCompaction starts the compaction workers.
func (s *AnnotationService) StartCompaction(ctx context.Context) {
	s.compactor.Start(ctx)
}

// StopCompaction drains and stops the compaction workers.
func (s *AnnotationService) StopCompaction() {
	s.compactor.Stop()
}

// StartMaintenance sweeps every class's drawing tuples on the given interval,
// catching tuples whose per-save compaction was missed. Runs until ctx is
// cancelled.
func (s *AnnotationService) StartMaintenance(ctx context.Context, interval time.Duration, classes classLister) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				all, err := classes.List(ctx)
				if err != nil {
					s.logger.Warn("compaction sweep skipped", zap.Error(err))
					continue
				}
				for _, class := range all {
					if err := s.CompactClass(ctx, class.ID); err != nil {
						s.logger.Warn("compaction sweep failed",
							zap.String("class_id", class.ID), zap.Error(err))
					}
				}
			}
		}
	}()
}

// Save appends one drawing save event. Students save only their own pages;
// teachers may annotate any roster student's page. The write resolves the
// target student server-side so a forged studentId cannot cross pages.
func (s *AnnotationService) Save(ctx context.Context, req dto.SaveDrawingRequest, claims *models.JWTClaims) (*models.Drawing, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drawing payload")
	}

	session, _, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.ErrNoActiveSession
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if !session.Active() {
		return nil, appErrors.ErrNoActiveSession
	}

	studentID, err := resolveDrawingStudent(session, req.StudentID, claims)
	if err != nil {
		return nil, err
	}

	lines := req.Lines
	if lines == nil {
		lines = []models.Stroke{}
	}
	drawing := &models.Drawing{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		ClassID:   session.ClassID,
		Book:      session.Book,
		Page:      req.Page,
		StudentID: studentID,
		Lines:     lines,
		SavedAt:   s.now().UTC(),
	}

	key, err := s.drawings.Append(ctx, drawing)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreWrite.Code, appErrors.ErrStoreWrite.Status, err.Error())
	}
	drawing.ID = key

	s.enqueueCompaction(drawing.ClassID, drawing.Book, drawing.Page, drawing.StudentID)
	return drawing, nil
}

func resolveDrawingStudent(session *models.Session, requested string, claims *models.JWTClaims) (string, error) {
	switch claims.Role {
	case models.RoleStudent:
		if requested != "" && requested != claims.UserID {
			return "", appErrors.ErrForbidden
		}
		if _, ok := session.StudentProgress[claims.UserID]; !ok {
			return "", appErrors.ErrNotEnrolled
		}
		return claims.UserID, nil
	case models.RoleTeacher, models.RoleAdmin:
		if claims.Role == models.RoleTeacher && session.TeacherID != claims.UserID {
			return "", appErrors.ErrForbidden
		}
		if requested == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, "studentId is required for teacher annotations")
		}
		if _, ok := session.StudentProgress[requested]; !ok {
			return "", appErrors.ErrNotEnrolled
		}
		return requested, nil
	default:
		return "", appErrors.ErrForbidden
	}
}

// Latest returns the newest overlay for the tuple, or an empty drawing when
// the page is blank. Callers always get a non-nil result to render.
func (s *AnnotationService) Latest(ctx context.Context, q dto.DrawingQuery) (*models.Drawing, error) {
	if err := s.validator.Struct(q); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drawing query")
	}
	drawing, err := s.drawings.Latest(ctx, q.ClassID, q.Book, q.Page, q.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load drawing")
	}
	if drawing == nil {
		return &models.Drawing{
			ClassID:   q.ClassID,
			Book:      q.Book,
			Page:      q.Page,
			StudentID: q.StudentID,
			Lines:     []models.Stroke{},
		}, nil
	}
	return drawing, nil
}

// History returns recent save events for the tuple, newest first.
func (s *AnnotationService) History(ctx context.Context, q dto.DrawingQuery, limit int) ([]*models.Drawing, error) {
	if err := s.validator.Struct(q); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drawing query")
	}
	if limit <= 0 || limit > s.cfg.DrawingKeep {
		limit = s.cfg.DrawingKeep
	}
	drawings, err := s.drawings.History(ctx, q.ClassID, q.Book, q.Page, q.StudentID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load drawing history")
	}
	return drawings, nil
}

// CompactClass sweeps every drawing tuple of a class, used by the periodic
// maintenance pass in addition to the per-save enqueue.
func (s *AnnotationService) CompactClass(ctx context.Context, classID string) error {
	tuples, err := s.drawings.Tuples(ctx, classID)
	if err != nil {
		return fmt.Errorf("list tuples: %w", err)
	}
	for _, t := range tuples {
		s.enqueueCompaction(t.ClassID, t.Book, t.Page, t.StudentID)
	}
	return nil
}

func (s *AnnotationService) enqueueCompaction(classID, book string, page int, studentID string) {
	err := s.compactor.Enqueue(jobs.Job{
		ID:   uuid.NewString(),
		Type: "compact",
		Payload: compactPayload{
			ClassID:   classID,
			Book:      book,
			Page:      page,
			StudentID: studentID,
		},
	})
	if err != nil {
		// Compaction is housekeeping; a missed run is picked up by the
		// next save on the same tuple.
		s.logger.Debug("compaction enqueue skipped", zap.Error(err))
	}
}

func (s *AnnotationService) handleCompaction(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(compactPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	removed, err := s.drawings.Compact(ctx, payload.ClassID, payload.Book, payload.Page, payload.StudentID, s.cfg.DrawingKeep)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.Debug("compacted drawing history",
			zap.String("class_id", payload.ClassID),
			zap.String("book", payload.Book),
			zap.Int("page", payload.Page),
			zap.String("student_id", payload.StudentID),
			zap.Int("removed", removed))
	}
	return nil
}
