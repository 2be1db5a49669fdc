package service

import (
	"context"
	"fmt"
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
	"github.com/noah-isme/talim-live-api/pkg/jobs"
)

type annotationFixture struct {
	store    *store.Memory
	drawings *repository.DrawingRepository
	svc      *AnnotationService
}

func newAnnotationFixture(t *testing.T) *annotationFixture {
	t.Helper()
	mem := store.NewMemory(nil)
	ctx := context.Background()

	require.NoError(t, mem.Put(ctx, store.CollectionSessions, "sess-1", map[string]interface{}{
		"classId":   "class-1",
		"teacherId": "teacher-1",
		"status":    "active",
		"book":      "book-a",
		"studentProgress": map[string]interface{}{
			"stu-1": map[string]interface{}{"currentPage": 1, "status": "joined"},
			"stu-2": map[string]interface{}{"currentPage": 1, "status": "pending"},
		},
	}))

	drawings := repository.NewDrawingRepository(mem)
	sessions := repository.NewSessionRepository(mem)
	svc := NewAnnotationService(drawings, sessions, config.SessionsConfig{DrawingKeep: 3}, nil, nil)

	// Deterministic, strictly increasing save timestamps.
	tick := 0
	svc.now = func() time.Time {
		tick++
		return time.Date(2026, 3, 14, 9, 0, tick, 0, time.UTC)
	}

	return &annotationFixture{store: mem, drawings: drawings, svc: svc}
}

func strokes(n int) []models.Stroke {
	out := make([]models.Stroke, n)
	for i := range out {
		out[i] = models.Stroke{
			Tool:   "pen",
			Color:  "#000000",
			Width:  2,
			Points: []models.Point{{X: float64(i), Y: 1}, {X: float64(i), Y: 2}},
		}
	}
	return out
}

func TestDrawingSaveStudentOwnPage(t *testing.T) {
	f := newAnnotationFixture(t)

	drawing, err := f.svc.Save(context.Background(), dto.SaveDrawingRequest{
		SessionID: "sess-1", Page: 4, Lines: strokes(2),
	}, studentClaims("stu-1"))
	require.NoError(t, err)

	assert.NotEmpty(t, drawing.ID)
	assert.Equal(t, "class-1", drawing.ClassID)
	assert.Equal(t, "book-a", drawing.Book)
	assert.Equal(t, "stu-1", drawing.StudentID)
	assert.Len(t, drawing.Lines, 2)
	assert.False(t, drawing.SavedAt.IsZero())
}

func TestDrawingSaveStudentCannotImpersonate(t *testing.T) {
	f := newAnnotationFixture(t)

	_, err := f.svc.Save(context.Background(), dto.SaveDrawingRequest{
		SessionID: "sess-1", Page: 4, StudentID: "stu-2", Lines: strokes(1),
	}, studentClaims("stu-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestDrawingSaveOutsiderRejected(t *testing.T) {
	f := newAnnotationFixture(t)

	_, err := f.svc.Save(context.Background(), dto.SaveDrawingRequest{
		SessionID: "sess-1", Page: 4, Lines: strokes(1),
	}, studentClaims("stranger"))
	assert.True(t, appErrors.Is(err, appErrors.ErrNotEnrolled))
}

func TestDrawingSaveTeacherAnnotatesStudentPage(t *testing.T) {
	f := newAnnotationFixture(t)

	drawing, err := f.svc.Save(context.Background(), dto.SaveDrawingRequest{
		SessionID: "sess-1", Page: 4, StudentID: "stu-1", Lines: strokes(1),
	}, teacherClaims())
	require.NoError(t, err)
	assert.Equal(t, "stu-1", drawing.StudentID)
}

func TestDrawingSaveTeacherNeedsStudentID(t *testing.T) {
	f := newAnnotationFixture(t)

	_, err := f.svc.Save(context.Background(), dto.SaveDrawingRequest{
		SessionID: "sess-1", Page: 4, Lines: strokes(1),
	}, teacherClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestDrawingSaveForeignTeacherForbidden(t *testing.T) {
	f := newAnnotationFixture(t)

	_, err := f.svc.Save(context.Background(), dto.SaveDrawingRequest{
		SessionID: "sess-1", Page: 4, StudentID: "stu-1", Lines: strokes(1),
	}, &models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestDrawingSaveCompletedSessionFails(t *testing.T) {
	f := newAnnotationFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Update(ctx, store.CollectionSessions, "sess-1", 0,
		store.Set("status", "completed")))

	_, err := f.svc.Save(ctx, dto.SaveDrawingRequest{
		SessionID: "sess-1", Page: 4, Lines: strokes(1),
	}, studentClaims("stu-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrNoActiveSession))
}

func TestDrawingSaveClearedPage(t *testing.T) {
	f := newAnnotationFixture(t)

	drawing, err := f.svc.Save(context.Background(), dto.SaveDrawingRequest{
		SessionID: "sess-1", Page: 4,
	}, studentClaims("stu-1"))
	require.NoError(t, err)
	require.NotNil(t, drawing.Lines)
	assert.Empty(t, drawing.Lines)
}

func TestDrawingLatestBlankPage(t *testing.T) {
	f := newAnnotationFixture(t)

	drawing, err := f.svc.Latest(context.Background(), dto.DrawingQuery{
		ClassID: "class-1", Book: "book-a", Page: 9, StudentID: "stu-1",
	})
	require.NoError(t, err)
	require.NotNil(t, drawing)
	require.NotNil(t, drawing.Lines)
	assert.Empty(t, drawing.Lines)
	assert.Equal(t, 9, drawing.Page)
}

func TestDrawingLatestReturnsNewestSave(t *testing.T) {
	f := newAnnotationFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := f.svc.Save(ctx, dto.SaveDrawingRequest{
			SessionID: "sess-1", Page: 4, Lines: strokes(i),
		}, studentClaims("stu-1"))
		require.NoError(t, err)
	}

	latest, err := f.svc.Latest(ctx, dto.DrawingQuery{
		ClassID: "class-1", Book: "book-a", Page: 4, StudentID: "stu-1",
	})
	require.NoError(t, err)
	assert.Len(t, latest.Lines, 3)
}

func TestDrawingHistoryNewestFirstAndClamped(t *testing.T) {
	f := newAnnotationFixture(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := f.svc.Save(ctx, dto.SaveDrawingRequest{
			SessionID: "sess-1", Page: 4, Lines: strokes(i),
		}, studentClaims("stu-1"))
		require.NoError(t, err)
	}

	query := dto.DrawingQuery{ClassID: "class-1", Book: "book-a", Page: 4, StudentID: "stu-1"}

	history, err := f.svc.History(ctx, query, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Len(t, history[0].Lines, 5)
	assert.Len(t, history[1].Lines, 4)

	// A zero or oversized limit clamps to the configured keep count.
	clamped, err := f.svc.History(ctx, query, 0)
	require.NoError(t, err)
	assert.Len(t, clamped, 3)
	clamped, err = f.svc.History(ctx, query, 100)
	require.NoError(t, err)
	assert.Len(t, clamped, 3)
}

func TestDrawingCompactionKeepsNewest(t *testing.T) {
	f := newAnnotationFixture(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := f.svc.Save(ctx, dto.SaveDrawingRequest{
			SessionID: "sess-1", Page: 4, Lines: strokes(i),
		}, studentClaims("stu-1"))
		require.NoError(t, err)
	}

	err := f.svc.handleCompaction(ctx, jobs.Job{
		ID:   "job-1",
		Type: "compact",
		Payload: compactPayload{
			ClassID: "class-1", Book: "book-a", Page: 4, StudentID: "stu-1",
		},
	})
	require.NoError(t, err)

	remaining, err := f.drawings.History(ctx, "class-1", "book-a", 4, "stu-1", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 3)
	assert.Len(t, remaining[0].Lines, 5)
	assert.Len(t, remaining[2].Lines, 3)
}

func TestDrawingCompactClassSweepsEveryTuple(t *testing.T) {
	f := newAnnotationFixture(t)
	ctx := context.Background()
	f.svc.StartCompaction(ctx)
	defer f.svc.StopCompaction()

	for page := 1; page <= 2; page++ {
		for i := 0; i < 2; i++ {
			_, err := f.svc.Save(ctx, dto.SaveDrawingRequest{
				SessionID: "sess-1", Page: page, Lines: strokes(1),
			}, studentClaims("stu-1"))
			require.NoError(t, err)
		}
	}

	require.NoError(t, f.svc.CompactClass(ctx, "class-1"))
}

func TestDrawingMaintenanceSweepCompactsWithoutSaves(t *testing.T) {
	f := newAnnotationFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.store.Put(ctx, store.CollectionClasses, "class-1", map[string]interface{}{
		"name": "Class 7A", "teacherId": "teacher-1", "studentIds": []string{"stu-1"},
	}))

	// Seed history straight through the repository so no per-save compaction
	// job exists; only the sweep can trim it.
	for i := 1; i <= 5; i++ {
		_, err := f.drawings.Append(ctx, &models.Drawing{
			SessionID: "sess-1", ClassID: "class-1", Book: "book-a", Page: 4,
			StudentID: "stu-1", Lines: strokes(i),
			SavedAt: time.Date(2026, 3, 14, 10, 0, i, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	f.svc.StartCompaction(ctx)
	defer f.svc.StopCompaction()
	f.svc.StartMaintenance(ctx, 10*time.Millisecond, repository.NewClassRepository(f.store))

	assert.Eventually(t, func() bool {
		remaining, err := f.drawings.History(ctx, "class-1", "book-a", 4, "stu-1", 10)
		return err == nil && len(remaining) == 3
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDrawingSavesAreIsolatedPerStudent(t *testing.T) {
	f := newAnnotationFixture(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, dto.SaveDrawingRequest{
		SessionID: "sess-1", Page: 4, Lines: strokes(1),
	}, studentClaims("stu-1"))
	require.NoError(t, err)
	_, err = f.svc.Save(ctx, dto.SaveDrawingRequest{
		SessionID: "sess-1", Page: 4, Lines: strokes(2),
	}, studentClaims("stu-2"))
	require.NoError(t, err)

	for studentID, want := range map[string]int{"stu-1": 1, "stu-2": 2} {
		latest, err := f.svc.Latest(ctx, dto.DrawingQuery{
			ClassID: "class-1", Book: "book-a", Page: 4, StudentID: studentID,
		})
		require.NoError(t, err, fmt.Sprintf("student %s", studentID))
		assert.Len(t, latest.Lines, want)
	}
}
