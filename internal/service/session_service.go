package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/talim-live-api/internal/dto"
	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/store"
	"github.com/noah-isme/talim-live-api/pkg/config"
	appErrors "github.com/noah-isme/talim-live-api/pkg/errors"
)

type sessionStore interface {
	Create(ctx context.Context, session *models.Session) (string, error)
	Get(ctx context.Context, id string) (*models.Session, int64, error)
	Update(ctx context.Context, id string, baseVersion int64, updates ...store.FieldUpdate) error
}

type classStore interface {
	FindByID(ctx context.Context, id string) (*models.ClassRoom, error)
	SetActiveSession(ctx context.Context, classID, sessionID string) error
	ClearActiveSession(ctx context.Context, classID string) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type sessionTerminator interface {
	Terminate(ctx context.Context, sessionID string, req dto.EndSessionRequest) (*models.Session, error)
}

type sessionMetrics interface {
	SessionStarted()
	SessionEnded()
	MeetingProvisionFailed()
	StoreWriteError()
}

// SessionService owns the live session state machine: creation, joining,
// page/progress mutation and termination. All role and identity checks live
// here in the write path rather than relying on client discipline.
type SessionService struct {
	sessions    sessionStore
	classes     classStore
	courses     courseReader
	users       userReader
	provisioner MeetingProvisioner
	terminator  sessionTerminator
	metrics     sessionMetrics
	cfg         config.SessionsConfig
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewSessionService builds the coordinator. provisioner and metrics may be
// nil; the session then starts without a meeting link and without counters.
func NewSessionService(
	sessions sessionStore,
	classes classStore,
	courses courseReader,
	users userReader,
	provisioner MeetingProvisioner,
	terminator sessionTerminator,
	metrics sessionMetrics,
	cfg config.SessionsConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions:    sessions,
		classes:     classes,
		courses:     courses,
		users:       users,
		provisioner: provisioner,
		terminator:  terminator,
		metrics:     metrics,
		cfg:         cfg,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// Start opens a session for a class. Meeting provisioning is best-effort:
// a provisioner failure degrades to a session without a link instead of
// failing the start.
func (s *SessionService) Start(ctx context.Context, req dto.StartSessionRequest, claims *models.JWTClaims) (*models.Session, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if claims.Role != models.RoleTeacher && claims.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if req.InitialPage < 1 {
		req.InitialPage = 1
	}

	class, err := s.classes.FindByID(ctx, req.ClassID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if claims.Role == models.RoleTeacher && class.TeacherID != claims.UserID {
		return nil, appErrors.ErrForbidden
	}

	if _, err := s.courses.FindByID(ctx, class.CourseID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.ErrCourseNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if err := s.reconcileActiveSession(ctx, class); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &models.Session{
		ClassID:         class.ID,
		TeacherID:       class.TeacherID,
		Status:          models.SessionStatusActive,
		Book:            req.Book,
		StartTime:       now,
		CurrentPage:     req.InitialPage,
		StartPage:       req.InitialPage,
		EndPage:         req.InitialPage,
		Attendees:       []string{},
		StudentProgress: map[string]models.StudentSessionProgress{},
		StudentStatus:   map[string]models.StudentJoinInfo{},
	}
	for _, studentID := range class.StudentIDs {
		session.StudentProgress[studentID] = models.StudentSessionProgress{
			CurrentPage: req.InitialPage,
			Status:      models.StudentStatusPending,
		}
	}
	session.Meeting = s.provisionMeeting(ctx, class, req.Book, now)

	id, err := s.sessions.Create(ctx, session)
	if err != nil {
		return nil, s.storeWriteFailed(err)
	}
	session.ID = id

	if err := s.classes.SetActiveSession(ctx, class.ID, id); err != nil {
		return nil, s.storeWriteFailed(err)
	}

	if s.metrics != nil {
		s.metrics.SessionStarted()
	}
	s.logger.Info("session started",
		zap.String("session_id", id),
		zap.String("class_id", class.ID),
		zap.String("book", req.Book),
		zap.Int("initial_page", req.InitialPage))
	return session, nil
}

// reconcileActiveSession repairs a class pointer that drifted from the
// session collection's actual status, and rejects a genuinely running one.
func (s *SessionService) reconcileActiveSession(ctx context.Context, class *models.ClassRoom) error {
	if class.ActiveSessionID == nil || *class.ActiveSessionID == "" {
		return nil
	}
	existing, _, err := s.sessions.Get(ctx, *class.ActiveSessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active session")
		}
	} else if existing.Active() {
		return appErrors.ErrSessionConflict
	}

	s.logger.Warn("repairing stale active session pointer",
		zap.String("class_id", class.ID),
		zap.String("session_id", *class.ActiveSessionID))
	if err := s.classes.ClearActiveSession(ctx, class.ID); err != nil {
		return s.storeWriteFailed(err)
	}
	class.ActiveSessionID = nil
	return nil
}

func (s *SessionService) provisionMeeting(ctx context.Context, class *models.ClassRoom, book string, start time.Time) *models.MeetingResource {
	if s.provisioner == nil {
		return nil
	}
	organizer, err := s.users.FindByID(ctx, class.TeacherID)
	if err != nil {
		s.logger.Warn("skipping meeting, teacher lookup failed", zap.String("teacher_id", class.TeacherID), zap.Error(err))
		if s.metrics != nil {
			s.metrics.MeetingProvisionFailed()
		}
		return nil
	}

	attendees := make([]string, 0, len(class.StudentIDs))
	for _, studentID := range class.StudentIDs {
		student, err := s.users.FindByID(ctx, studentID)
		if err != nil {
			continue
		}
		attendees = append(attendees, student.Email)
	}

	meeting, err := s.provisioner.CreateMeeting(ctx, MeetingRequest{
		TeacherID:      class.TeacherID,
		OrganizerEmail: organizer.Email,
		Title:          class.Name + ": " + book,
		Start:          start,
		Duration:       s.cfg.DefaultDuration,
		AttendeeEmails: attendees,
	})
	if err != nil {
		// Deliberately absorbed: the session starts without a link.
		s.logger.Warn("meeting provisioning failed", zap.String("class_id", class.ID), zap.Error(err))
		if s.metrics != nil {
			s.metrics.MeetingProvisionFailed()
		}
		return nil
	}
	return meeting
}

// Join adds the calling student to the session. ArrayUnion gives it set
// semantics, so concurrent joins never clobber each other and a repeat join
// leaves attendees unchanged.
func (s *SessionService) Join(ctx context.Context, sessionID string, claims *models.JWTClaims) (*models.Session, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if claims.Role != models.RoleStudent {
		return nil, appErrors.ErrForbidden
	}

	session, _, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.ErrNoActiveSession
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if !session.Active() {
		return nil, appErrors.ErrNoActiveSession
	}

	class, err := s.classes.FindByID(ctx, session.ClassID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !class.HasStudent(claims.UserID) {
		return nil, appErrors.ErrNotEnrolled
	}

	err = s.sessions.Update(ctx, sessionID, 0,
		store.ArrayUnion("attendees", claims.UserID),
		store.Set("studentStatus."+claims.UserID, models.StudentJoinInfo{JoinedAt: s.now().UTC()}),
	)
	if err != nil {
		return nil, s.storeWriteFailed(err)
	}

	joined, _, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload session")
	}
	return joined, nil
}

// UpdateClassProgress advances the page the whole class is viewing. Only the
// owning teacher writes this path; student progress lives at disjoint paths
// so the two never race.
func (s *SessionService) UpdateClassProgress(ctx context.Context, sessionID string, req dto.UpdateClassProgressRequest, claims *models.JWTClaims) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid page payload")
	}

	session, version, err := s.requireActive(ctx, sessionID)
	if err != nil {
		return err
	}
	if claims.Role != models.RoleAdmin && session.TeacherID != claims.UserID {
		return appErrors.ErrForbidden
	}

	err = s.sessions.Update(ctx, sessionID, version,
		store.Set("currentPage", req.Page),
		store.Set("endPage", req.Page),
	)
	if err != nil {
		return s.storeWriteFailed(err)
	}
	return nil
}

// UpdateProgress writes the calling student's own progress sub-path with a
// fresh lastActive timestamp. Drawings merge per page at disjoint paths, so
// a progress update without strokes never wipes the live overlay.
func (s *SessionService) UpdateProgress(ctx context.Context, sessionID string, req dto.UpdateProgressRequest, claims *models.JWTClaims) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if claims.Role != models.RoleStudent {
		return appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload")
	}

	session, _, err := s.requireActive(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, ok := session.StudentProgress[claims.UserID]; !ok {
		return appErrors.ErrNotEnrolled
	}

	status := req.Status
	if status == "" {
		status = models.StudentStatusJoined
	}

	base := "studentProgress." + claims.UserID
	updates := []store.FieldUpdate{
		store.Set(base+".currentPage", req.CurrentPage),
		store.Set(base+".status", status),
		store.Set(base+".lastActive", s.now().UTC()),
	}
	for page, lines := range req.Drawings {
		if !validPageKey(page) {
			return appErrors.Clone(appErrors.ErrValidation, "drawing pages must be numeric")
		}
		if lines == nil {
			lines = []models.Stroke{}
		}
		updates = append(updates, store.Set(base+".drawings."+page, lines))
	}

	if err := s.sessions.Update(ctx, sessionID, 0, updates...); err != nil {
		return s.storeWriteFailed(err)
	}
	return nil
}

// validPageKey guards the dotted update path: page keys come from the client
// and must stay a single path segment.
func validPageKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// End terminates the session through the aggregator, then cleans up the
// meeting resource best-effort.
func (s *SessionService) End(ctx context.Context, sessionID string, req dto.EndSessionRequest, claims *models.JWTClaims) (*models.Session, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feedback payload")
	}

	session, _, err := s.requireActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if claims.Role != models.RoleAdmin && session.TeacherID != claims.UserID {
		return nil, appErrors.ErrForbidden
	}

	completed, err := s.terminator.Terminate(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}

	s.cleanupMeeting(ctx, session)

	if s.metrics != nil {
		s.metrics.SessionEnded()
	}
	s.logger.Info("session ended",
		zap.String("session_id", sessionID),
		zap.String("class_id", session.ClassID),
		zap.Int("end_page", session.CurrentPage))
	return completed, nil
}

func (s *SessionService) storeWriteFailed(err error) *appErrors.Error {
	if s.metrics != nil {
		s.metrics.StoreWriteError()
	}
	return appErrors.Wrap(err, appErrors.ErrStoreWrite.Code, appErrors.ErrStoreWrite.Status, err.Error())
}

func (s *SessionService) cleanupMeeting(ctx context.Context, session *models.Session) {
	if s.provisioner == nil || session.Meeting == nil || session.Meeting.EventID == "" {
		return
	}
	organizer, err := s.users.FindByID(ctx, session.TeacherID)
	if err != nil {
		s.logger.Warn("skipping meeting cleanup, teacher lookup failed", zap.Error(err))
		return
	}
	if err := s.provisioner.DeleteMeeting(ctx, session.TeacherID, organizer.Email, session.Meeting.EventID); err != nil {
		s.logger.Warn("meeting cleanup failed", zap.String("event_id", session.Meeting.EventID), zap.Error(err))
	}
}

// Get returns the current session snapshot with its class.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*dto.SessionView, error) {
	session, _, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	view := &dto.SessionView{Session: session}
	if class, err := s.classes.FindByID(ctx, session.ClassID); err == nil {
		view.Class = class
	}
	return view, nil
}

// Active resolves the class's running session, or nil when idle.
func (s *SessionService) Active(ctx context.Context, classID string) (*dto.SessionView, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if class.ActiveSessionID == nil || *class.ActiveSessionID == "" {
		return &dto.SessionView{Class: class}, nil
	}
	session, _, err := s.sessions.Get(ctx, *class.ActiveSessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &dto.SessionView{Class: class}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if !session.Active() {
		return &dto.SessionView{Class: class}, nil
	}
	return &dto.SessionView{Session: session, Class: class}, nil
}

func (s *SessionService) requireActive(ctx context.Context, sessionID string) (*models.Session, int64, error) {
	session, version, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, 0, appErrors.ErrNoActiveSession
		}
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if !session.Active() {
		return nil, 0, appErrors.ErrNoActiveSession
	}
	return session, version, nil
}
