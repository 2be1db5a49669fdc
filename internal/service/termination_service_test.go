package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/talim-live-api/internal/dto"
	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/repository"
	"github.com/noah-isme/talim-live-api/internal/store"
	appErrors "github.com/noah-isme/talim-live-api/pkg/errors"
)

type terminationFixture struct {
	store    *store.Memory
	sessions *repository.SessionRepository
	progress *repository.ProgressRepository
	classes  *repository.ClassRepository
	intents  *repository.IntentRepository
	svc      *TerminationService
}

func newTerminationFixture(t *testing.T) *terminationFixture {
	t.Helper()
	mem := store.NewMemory(nil)
	ctx := context.Background()

	require.NoError(t, mem.Put(ctx, store.CollectionClasses, "class-1", map[string]interface{}{
		"name":          "Class 7A",
		"teacherId":     "teacher-1",
		"courseId":      "course-1",
		"studentIds":    []string{"stu-1", "stu-2"},
		"activeSession": "sess-1",
	}))
	require.NoError(t, mem.Put(ctx, store.CollectionSessions, "sess-1", map[string]interface{}{
		"classId":     "class-1",
		"teacherId":   "teacher-1",
		"status":      "active",
		"book":        "book-a",
		"startTime":   "2026-03-14T09:00:00Z",
		"currentPage": 7,
		"startPage":   3,
		"endPage":     3,
		"attendees":   []string{"stu-1"},
	}))

	f := &terminationFixture{
		store:    mem,
		sessions: repository.NewSessionRepository(mem),
		progress: repository.NewProgressRepository(mem),
		classes:  repository.NewClassRepository(mem),
		intents:  repository.NewIntentRepository(mem),
	}
	f.svc = NewTerminationService(f.sessions, f.progress, f.classes, f.intents, nil)
	return f
}

func endRequest() dto.EndSessionRequest {
	return dto.EndSessionRequest{
		ClassNotes: "good pace",
		StudentFeedback: map[string]dto.StudentFeedbackPayload{
			"stu-1": {
				Assessment: dto.AssessmentPayload{Reading: 4, Pronunciation: 3, Memorization: 5},
				Strengths:  []string{"fluency"},
				Notes:      "keep practicing page 6",
			},
		},
	}
}

func TestTerminateCompletesSessionAndAppendsHistory(t *testing.T) {
	f := newTerminationFixture(t)
	ctx := context.Background()

	completed, err := f.svc.Terminate(ctx, "sess-1", endRequest())
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, completed.Status)
	require.NotNil(t, completed.EndTime)
	assert.Equal(t, 7, completed.EndPage)
	assert.NotEmpty(t, completed.DisplayID)
	require.NotNil(t, completed.Feedback)
	assert.Equal(t, "good pace", completed.Feedback.ClassNotes)

	record, version, err := f.progress.Get(ctx, "class-1", "stu-1")
	require.NoError(t, err)
	assert.NotZero(t, version)
	assert.Equal(t, "course-1", record.CourseID)
	require.Len(t, record.Sessions, 1)
	assert.Equal(t, "sess-1", record.Sessions[0].SessionID)
	assert.Equal(t, 3, record.Sessions[0].StartPage)
	assert.Equal(t, 7, record.Sessions[0].EndPage)
	require.Len(t, record.Assessments, 1)
	assert.Equal(t, 4, record.Assessments[0].Reading)

	// Students without feedback keep their records untouched.
	_, version, err = f.progress.Get(ctx, "class-1", "stu-2")
	require.NoError(t, err)
	assert.Zero(t, version)

	class, err := f.classes.FindByID(ctx, "class-1")
	require.NoError(t, err)
	assert.Nil(t, class.ActiveSessionID)

	intents, err := f.intents.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestTerminateAppendsToExistingRecord(t *testing.T) {
	f := newTerminationFixture(t)
	ctx := context.Background()

	seed, version, err := f.progress.Get(ctx, "class-1", "stu-1")
	require.NoError(t, err)
	require.NoError(t, f.progress.Append(ctx, seed, version,
		models.SessionHistory{SessionID: "old", Book: "book-a"},
		models.AssessmentRecord{SessionID: "old", Reading: 2},
	))

	_, err = f.svc.Terminate(ctx, "sess-1", endRequest())
	require.NoError(t, err)

	record, _, err := f.progress.Get(ctx, "class-1", "stu-1")
	require.NoError(t, err)
	require.Len(t, record.Sessions, 2)
	assert.Equal(t, "old", record.Sessions[0].SessionID)
	assert.Equal(t, "sess-1", record.Sessions[1].SessionID)
	require.Len(t, record.Assessments, 2)
}

func TestTerminateCompletedSessionFails(t *testing.T) {
	f := newTerminationFixture(t)
	ctx := context.Background()

	_, err := f.svc.Terminate(ctx, "sess-1", endRequest())
	require.NoError(t, err)

	_, err = f.svc.Terminate(ctx, "sess-1", endRequest())
	assert.True(t, appErrors.Is(err, appErrors.ErrNoActiveSession))
}

func TestTerminateUnknownSessionFails(t *testing.T) {
	f := newTerminationFixture(t)

	_, err := f.svc.Terminate(context.Background(), "ghost", endRequest())
	assert.True(t, appErrors.Is(err, appErrors.ErrNoActiveSession))
}

func TestRecoverReplaysInterruptedTermination(t *testing.T) {
	f := newTerminationFixture(t)
	ctx := context.Background()

	// The intent was written but the process died before any mutation.
	require.NoError(t, f.intents.Put(ctx, &repository.TerminationIntent{
		SessionID: "sess-1",
		ClassID:   "class-1",
		Feedback:  NormalizeFeedback(endRequest()),
		CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, f.svc.Recover(ctx))

	session, _, err := f.sessions.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)

	record, _, err := f.progress.Get(ctx, "class-1", "stu-1")
	require.NoError(t, err)
	require.Len(t, record.Sessions, 1)

	intents, err := f.intents.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestRecoverFinishesInterruptedAppends(t *testing.T) {
	f := newTerminationFixture(t)
	ctx := context.Background()

	// The completion update landed but the process died before any student
	// record was appended.
	endedAt := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	require.NoError(t, f.sessions.Update(ctx, "sess-1", 0,
		store.Set("status", models.SessionStatusCompleted),
		store.Set("endTime", endedAt),
		store.Set("endPage", 7),
		store.Set("displayId", "book-a-2026-03-14-sess-1"),
	))
	require.NoError(t, f.intents.Put(ctx, &repository.TerminationIntent{
		SessionID: "sess-1",
		ClassID:   "class-1",
		Feedback:  NormalizeFeedback(endRequest()),
		CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, f.svc.Recover(ctx))

	record, _, err := f.progress.Get(ctx, "class-1", "stu-1")
	require.NoError(t, err)
	require.Len(t, record.Sessions, 1)
	assert.Equal(t, "sess-1", record.Sessions[0].SessionID)
	assert.Equal(t, "book-a-2026-03-14-sess-1", record.Sessions[0].DisplayID)
	assert.True(t, record.Sessions[0].Date.Equal(endedAt))
	require.Len(t, record.Assessments, 1)
	assert.Equal(t, 4, record.Assessments[0].Reading)

	class, err := f.classes.FindByID(ctx, "class-1")
	require.NoError(t, err)
	assert.Nil(t, class.ActiveSessionID)

	intents, err := f.intents.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestRecoverSkipsStudentsAlreadyAppended(t *testing.T) {
	f := newTerminationFixture(t)
	ctx := context.Background()

	// stu-1's append survived the crash, stu-2's did not.
	seed, version, err := f.progress.Get(ctx, "class-1", "stu-1")
	require.NoError(t, err)
	require.NoError(t, f.progress.Append(ctx, seed, version,
		models.SessionHistory{SessionID: "sess-1", Book: "book-a"},
		models.AssessmentRecord{SessionID: "sess-1", Reading: 4},
	))
	require.NoError(t, f.sessions.Update(ctx, "sess-1", 0,
		store.Set("status", models.SessionStatusCompleted),
	))
	require.NoError(t, f.intents.Put(ctx, &repository.TerminationIntent{
		SessionID: "sess-1",
		ClassID:   "class-1",
		Feedback: NormalizeFeedback(dto.EndSessionRequest{
			StudentFeedback: map[string]dto.StudentFeedbackPayload{
				"stu-1": {Assessment: dto.AssessmentPayload{Reading: 4}},
				"stu-2": {Assessment: dto.AssessmentPayload{Reading: 2}},
			},
		}),
		CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, f.svc.Recover(ctx))

	record, _, err := f.progress.Get(ctx, "class-1", "stu-1")
	require.NoError(t, err)
	require.Len(t, record.Sessions, 1)
	require.Len(t, record.Assessments, 1)

	record, _, err = f.progress.Get(ctx, "class-1", "stu-2")
	require.NoError(t, err)
	require.Len(t, record.Sessions, 1)
	assert.Equal(t, 2, record.Assessments[0].Reading)
}

func TestRecoverFinishesCleanupForCompletedSession(t *testing.T) {
	f := newTerminationFixture(t)
	ctx := context.Background()

	// The session already flipped but the class pointer and intent survived.
	require.NoError(t, f.sessions.Update(ctx, "sess-1", 0,
		store.Set("status", models.SessionStatusCompleted),
	))
	require.NoError(t, f.intents.Put(ctx, &repository.TerminationIntent{
		SessionID: "sess-1",
		ClassID:   "class-1",
		Feedback:  NormalizeFeedback(dto.EndSessionRequest{}),
		CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, f.svc.Recover(ctx))

	class, err := f.classes.FindByID(ctx, "class-1")
	require.NoError(t, err)
	assert.Nil(t, class.ActiveSessionID)

	// No history was appended a second time.
	_, version, err := f.progress.Get(ctx, "class-1", "stu-1")
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestRecoverDropsIntentForDeletedSession(t *testing.T) {
	f := newTerminationFixture(t)
	ctx := context.Background()

	require.NoError(t, f.intents.Put(ctx, &repository.TerminationIntent{
		SessionID: "ghost",
		ClassID:   "class-1",
		Feedback:  NormalizeFeedback(dto.EndSessionRequest{}),
		CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, f.svc.Recover(ctx))

	intents, err := f.intents.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestNormalizeFeedbackFillsEmptyCollections(t *testing.T) {
	feedback := NormalizeFeedback(dto.EndSessionRequest{
		StudentFeedback: map[string]dto.StudentFeedbackPayload{
			"stu-1": {Notes: "bare"},
		},
	})

	fb := feedback.Students["stu-1"]
	assert.NotNil(t, fb.PageNotes)
	assert.NotNil(t, fb.AreasOfImprovement)
	assert.NotNil(t, fb.Strengths)
	assert.Zero(t, fb.Assessment.Reading)
	assert.Equal(t, "bare", fb.Notes)
}

func TestBuildDisplayID(t *testing.T) {
	date := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "book-a-2026-03-14-abc123", buildDisplayID("book-a", date, "session-abc123"))
	assert.Equal(t, "book-a-2026-03-14-s1", buildDisplayID("book-a", date, "s1"))
}
