package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/repository"
	"github.com/noah-isme/talim-live-api/internal/store"
	appErrors "github.com/noah-isme/talim-live-api/pkg/errors"
)

func newClassFixture(t *testing.T) *ClassService {
	t.Helper()
	mem := store.NewMemory(nil)
	ctx := context.Background()

	require.NoError(t, mem.Put(ctx, store.CollectionClasses, "class-1", map[string]interface{}{
		"name": "Class 7A", "teacherId": "teacher-1", "courseId": "course-1",
		"studentIds": []string{"stu-1"},
	}))
	require.NoError(t, mem.Put(ctx, store.CollectionClasses, "class-2", map[string]interface{}{
		"name": "Class 7B", "teacherId": "teacher-1", "courseId": "course-1",
		"studentIds": []string{"stu-2"},
	}))
	require.NoError(t, mem.Put(ctx, store.CollectionClasses, "class-3", map[string]interface{}{
		"name": "Class 8A", "teacherId": "teacher-2", "courseId": "course-2",
		"studentIds": []string{"stu-1", "stu-2"},
	}))
	require.NoError(t, mem.Put(ctx, store.CollectionCourses, "course-1", map[string]interface{}{
		"name": "Foundations", "books": []string{"book-a", "book-b"},
	}))

	return NewClassService(repository.NewClassRepository(mem), repository.NewCourseRepository(mem), nil)
}

func TestClassListTeacherSeesOwnedClasses(t *testing.T) {
	svc := newClassFixture(t)

	classes, err := svc.ListForUser(context.Background(), teacherClaims())
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, "Class 7A", classes[0].Name)
	assert.Equal(t, "Class 7B", classes[1].Name)
}

func TestClassListStudentSeesEnrolledClasses(t *testing.T) {
	svc := newClassFixture(t)

	classes, err := svc.ListForUser(context.Background(), studentClaims("stu-1"))
	require.NoError(t, err)
	require.Len(t, classes, 2)
	for _, class := range classes {
		assert.True(t, class.HasStudent("stu-1"))
	}
}

func TestClassListAdminSeesEverything(t *testing.T) {
	svc := newClassFixture(t)

	classes, err := svc.ListForUser(context.Background(), &models.JWTClaims{UserID: "root", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, classes, 3)
}

func TestClassGetEnforcesVisibility(t *testing.T) {
	svc := newClassFixture(t)
	ctx := context.Background()

	class, err := svc.Get(ctx, "class-1", teacherClaims())
	require.NoError(t, err)
	assert.Equal(t, "Class 7A", class.Name)

	_, err = svc.Get(ctx, "class-3", teacherClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Get(ctx, "class-2", studentClaims("stu-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrNotEnrolled))

	_, err = svc.Get(ctx, "ghost", teacherClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrClassNotFound))
}

func TestClassCourseLookup(t *testing.T) {
	svc := newClassFixture(t)
	ctx := context.Background()

	course, err := svc.Course(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"book-a", "book-b"}, course.Books)

	_, err = svc.Course(ctx, "ghost")
	assert.True(t, appErrors.Is(err, appErrors.ErrCourseNotFound))
}
