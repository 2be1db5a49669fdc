package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/talim-live-api/internal/dto"
	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/repository"
	"github.com/noah-isme/talim-live-api/internal/store"
	"github.com/noah-isme/talim-live-api/pkg/config"
	appErrors "github.com/noah-isme/talim-live-api/pkg/errors"
)

type stubTerminator struct {
	calls   int
	session *models.Session
	err     error
}

func (s *stubTerminator) Terminate(ctx context.Context, sessionID string, req dto.EndSessionRequest) (*models.Session, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.session, nil
}

type stubProvisioner struct {
	created int
	deleted int
	err     error
	meeting *models.MeetingResource
}

func (s *stubProvisioner) CreateMeeting(ctx context.Context, req MeetingRequest) (*models.MeetingResource, error) {
	s.created++
	if s.err != nil {
		return nil, s.err
	}
	return s.meeting, nil
}

func (s *stubProvisioner) UpdateMeeting(ctx context.Context, teacherID, organizerEmail, eventID string, req MeetingRequest) (*models.MeetingResource, error) {
	return s.meeting, s.err
}

func (s *stubProvisioner) DeleteMeeting(ctx context.Context, teacherID, organizerEmail, eventID string) error {
	s.deleted++
	return s.err
}

func (s *stubProvisioner) GetMeeting(ctx context.Context, teacherID, organizerEmail, eventID string) (*models.MeetingResource, error) {
	return s.meeting, s.err
}

type sessionFixture struct {
	store      *store.Memory
	sessions   *repository.SessionRepository
	classes    *repository.ClassRepository
	terminator *stubTerminator
	svc        *SessionService
}

func newSessionFixture(t *testing.T, provisioner MeetingProvisioner) *sessionFixture {
	t.Helper()
	mem := store.NewMemory(nil)
	ctx := context.Background()

	require.NoError(t, mem.Put(ctx, store.CollectionUsers, "teacher-1", map[string]interface{}{
		"email": "teacher@talim.example", "fullName": "Teacher One", "role": "TEACHER", "active": true,
	}))
	require.NoError(t, mem.Put(ctx, store.CollectionUsers, "stu-1", map[string]interface{}{
		"email": "stu1@talim.example", "fullName": "Student One", "role": "STUDENT", "active": true,
	}))
	require.NoError(t, mem.Put(ctx, store.CollectionUsers, "stu-2", map[string]interface{}{
		"email": "stu2@talim.example", "fullName": "Student Two", "role": "STUDENT", "active": true,
	}))
	require.NoError(t, mem.Put(ctx, store.CollectionCourses, "course-1", map[string]interface{}{
		"name": "Foundations", "books": []string{"book-a", "book-b"},
	}))
	require.NoError(t, mem.Put(ctx, store.CollectionClasses, "class-1", map[string]interface{}{
		"name":       "Class 7A",
		"teacherId":  "teacher-1",
		"courseId":   "course-1",
		"studentIds": []string{"stu-1", "stu-2"},
	}))

	sessions := repository.NewSessionRepository(mem)
	classes := repository.NewClassRepository(mem)
	courses := repository.NewCourseRepository(mem)
	users := repository.NewUserRepository(mem)
	terminator := &stubTerminator{}

	svc := NewSessionService(sessions, classes, courses, users, provisioner, terminator, nil,
		config.SessionsConfig{DefaultDuration: time.Hour, DrawingKeep: 20}, nil, nil)

	return &sessionFixture{store: mem, sessions: sessions, classes: classes, terminator: terminator, svc: svc}
}

func teacherClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher, Email: "teacher@talim.example"}
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func TestSessionStartSeedsRosterAsPending(t *testing.T) {
	f := newSessionFixture(t, nil)

	session, err := f.svc.Start(context.Background(), dto.StartSessionRequest{
		ClassID: "class-1", Book: "book-a", InitialPage: 3,
	}, teacherClaims())
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, models.SessionStatusActive, session.Status)
	assert.Equal(t, 3, session.CurrentPage)
	assert.Equal(t, 3, session.StartPage)
	assert.Empty(t, session.Attendees)
	require.Len(t, session.StudentProgress, 2)
	for _, studentID := range []string{"stu-1", "stu-2"} {
		progress := session.StudentProgress[studentID]
		assert.Equal(t, 3, progress.CurrentPage)
		assert.Equal(t, models.StudentStatusPending, progress.Status)
	}

	class, err := f.classes.FindByID(context.Background(), "class-1")
	require.NoError(t, err)
	require.NotNil(t, class.ActiveSessionID)
	assert.Equal(t, session.ID, *class.ActiveSessionID)
}

func TestSessionStartUnknownClass(t *testing.T) {
	f := newSessionFixture(t, nil)

	_, err := f.svc.Start(context.Background(), dto.StartSessionRequest{
		ClassID: "ghost", Book: "book-a", InitialPage: 1,
	}, teacherClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrClassNotFound))
}

func TestSessionStartForeignTeacherForbidden(t *testing.T) {
	f := newSessionFixture(t, nil)

	_, err := f.svc.Start(context.Background(), dto.StartSessionRequest{
		ClassID: "class-1", Book: "book-a", InitialPage: 1,
	}, &models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestSessionStartStudentForbidden(t *testing.T) {
	f := newSessionFixture(t, nil)

	_, err := f.svc.Start(context.Background(), dto.StartSessionRequest{
		ClassID: "class-1", Book: "book-a", InitialPage: 1,
	}, studentClaims("stu-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestSessionStartConflictsWithRunningSession(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-b", InitialPage: 1}, teacherClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionConflict))
}

func TestSessionStartRepairsStalePointer(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)

	// Simulate a termination that flipped the session but crashed before
	// clearing the class pointer.
	require.NoError(t, f.sessions.Update(ctx, first.ID, 0,
		store.Set("status", models.SessionStatusCompleted),
		store.Set("endTime", time.Now().UTC()),
	))

	second, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-b", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	class, err := f.classes.FindByID(ctx, "class-1")
	require.NoError(t, err)
	require.NotNil(t, class.ActiveSessionID)
	assert.Equal(t, second.ID, *class.ActiveSessionID)
}

func TestSessionStartSurvivesMeetingFailure(t *testing.T) {
	provisioner := &stubProvisioner{err: errors.New("calendar unreachable")}
	f := newSessionFixture(t, provisioner)

	session, err := f.svc.Start(context.Background(), dto.StartSessionRequest{
		ClassID: "class-1", Book: "book-a", InitialPage: 1,
	}, teacherClaims())
	require.NoError(t, err)
	assert.Nil(t, session.Meeting)
	assert.Equal(t, 1, provisioner.created)
}

func TestSessionStartAttachesMeeting(t *testing.T) {
	provisioner := &stubProvisioner{meeting: &models.MeetingResource{Link: "https://meet.example/abc", EventID: "evt-1"}}
	f := newSessionFixture(t, provisioner)

	session, err := f.svc.Start(context.Background(), dto.StartSessionRequest{
		ClassID: "class-1", Book: "book-a", InitialPage: 1,
	}, teacherClaims())
	require.NoError(t, err)
	require.NotNil(t, session.Meeting)
	assert.Equal(t, "https://meet.example/abc", session.Meeting.Link)
}

func TestSessionJoinIsIdempotent(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	session, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)

	joined, err := f.svc.Join(ctx, session.ID, studentClaims("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"stu-1"}, joined.Attendees)
	require.Contains(t, joined.StudentStatus, "stu-1")

	again, err := f.svc.Join(ctx, session.ID, studentClaims("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"stu-1"}, again.Attendees)
}

func TestSessionJoinRejectsOutsiders(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	session, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)

	_, err = f.svc.Join(ctx, session.ID, studentClaims("stranger"))
	assert.True(t, appErrors.Is(err, appErrors.ErrNotEnrolled))
}

func TestSessionJoinCompletedSessionFails(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	session, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)
	require.NoError(t, f.sessions.Update(ctx, session.ID, 0, store.Set("status", models.SessionStatusCompleted)))

	_, err = f.svc.Join(ctx, session.ID, studentClaims("stu-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrNoActiveSession))
}

func TestSessionClassAndStudentWritesStayDisjoint(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	session, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdateProgress(ctx, session.ID, dto.UpdateProgressRequest{CurrentPage: 4, Status: "joined"}, studentClaims("stu-1")))
	require.NoError(t, f.svc.UpdateClassProgress(ctx, session.ID, dto.UpdateClassProgressRequest{Page: 9}, teacherClaims()))

	current, _, err := f.sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, current.CurrentPage)
	assert.Equal(t, 9, current.EndPage)
	assert.Equal(t, 4, current.StudentProgress["stu-1"].CurrentPage)
	assert.Equal(t, models.StudentStatusJoined, current.StudentProgress["stu-1"].Status)
	require.NotNil(t, current.StudentProgress["stu-1"].LastActive)
	// The untouched sibling keeps its seeded state.
	assert.Equal(t, 1, current.StudentProgress["stu-2"].CurrentPage)
	assert.Equal(t, models.StudentStatusPending, current.StudentProgress["stu-2"].Status)
}

func TestSessionUpdateProgressSyncsDrawings(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	session, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)

	stroke := models.Stroke{Tool: "pen", Color: "#000000", Width: 2, Points: []models.Point{{X: 1, Y: 2}}}
	require.NoError(t, f.svc.UpdateProgress(ctx, session.ID, dto.UpdateProgressRequest{
		CurrentPage: 4,
		Drawings:    map[string][]models.Stroke{"4": {stroke}},
	}, studentClaims("stu-1")))

	current, _, err := f.sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, current.StudentProgress["stu-1"].Drawings["4"], 1)
	assert.Equal(t, "pen", current.StudentProgress["stu-1"].Drawings["4"][0].Tool)

	// A plain page flip keeps the overlay; a new page merges alongside it.
	require.NoError(t, f.svc.UpdateProgress(ctx, session.ID, dto.UpdateProgressRequest{CurrentPage: 5}, studentClaims("stu-1")))
	require.NoError(t, f.svc.UpdateProgress(ctx, session.ID, dto.UpdateProgressRequest{
		CurrentPage: 5,
		Drawings:    map[string][]models.Stroke{"5": {stroke, stroke}},
	}, studentClaims("stu-1")))

	current, _, err = f.sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, current.StudentProgress["stu-1"].Drawings["4"], 1)
	assert.Len(t, current.StudentProgress["stu-1"].Drawings["5"], 2)
}

func TestSessionUpdateProgressRejectsBadDrawingPage(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	session, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)

	err = f.svc.UpdateProgress(ctx, session.ID, dto.UpdateProgressRequest{
		CurrentPage: 2,
		Drawings:    map[string][]models.Stroke{"4.extra": nil},
	}, studentClaims("stu-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSessionUpdateClassProgressForeignTeacherForbidden(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	session, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)

	err = f.svc.UpdateClassProgress(ctx, session.ID, dto.UpdateClassProgressRequest{Page: 2},
		&models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestSessionUpdateProgressRequiresRosterMembership(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	session, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)

	err = f.svc.UpdateProgress(ctx, session.ID, dto.UpdateProgressRequest{CurrentPage: 2}, studentClaims("stranger"))
	assert.True(t, appErrors.Is(err, appErrors.ErrNotEnrolled))
}

func TestSessionEndDelegatesToTerminator(t *testing.T) {
	provisioner := &stubProvisioner{meeting: &models.MeetingResource{Link: "https://meet.example/abc", EventID: "evt-1"}}
	f := newSessionFixture(t, provisioner)
	ctx := context.Background()

	session, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)
	f.terminator.session = session

	_, err = f.svc.End(ctx, session.ID, dto.EndSessionRequest{}, teacherClaims())
	require.NoError(t, err)
	assert.Equal(t, 1, f.terminator.calls)
	assert.Equal(t, 1, provisioner.deleted)
}

func TestSessionEndAlreadyCompletedFails(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	session, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)
	require.NoError(t, f.sessions.Update(ctx, session.ID, 0, store.Set("status", models.SessionStatusCompleted)))

	_, err = f.svc.End(ctx, session.ID, dto.EndSessionRequest{}, teacherClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrNoActiveSession))
	assert.Zero(t, f.terminator.calls)
}

func TestSessionActiveResolvesPointer(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	view, err := f.svc.Active(ctx, "class-1")
	require.NoError(t, err)
	assert.Nil(t, view.Session)

	session, err := f.svc.Start(ctx, dto.StartSessionRequest{ClassID: "class-1", Book: "book-a", InitialPage: 1}, teacherClaims())
	require.NoError(t, err)

	view, err = f.svc.Active(ctx, "class-1")
	require.NoError(t, err)
	require.NotNil(t, view.Session)
	assert.Equal(t, session.ID, view.Session.ID)
}
