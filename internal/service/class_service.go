package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/store"
	appErrors "github.com/noah-isme/talim-live-api/pkg/errors"
)

type classListReader interface {
	FindByID(ctx context.Context, id string) (*models.ClassRoom, error)
	FindByTeacher(ctx context.Context, teacherID string) ([]*models.ClassRoom, error)
	List(ctx context.Context) ([]*models.ClassRoom, error)
}

// ClassService serves the read-only class and course surface the live
// coordinator builds on.
type ClassService struct {
	classes classListReader
	courses courseReader
	logger  *zap.Logger
}

// NewClassService constructs the read service.
func NewClassService(classes classListReader, courses courseReader, logger *zap.Logger) *ClassService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{classes: classes, courses: courses, logger: logger}
}

// ListForUser returns the classes visible to the caller: owned classes for
// teachers, enrolled classes for students, everything for admins.
func (s *ClassService) ListForUser(ctx context.Context, claims *models.JWTClaims) ([]*models.ClassRoom, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}

	switch claims.Role {
	case models.RoleTeacher:
		classes, err := s.classes.FindByTeacher(ctx, claims.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
		}
		return classes, nil
	case models.RoleAdmin:
		classes, err := s.classes.List(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
		}
		return classes, nil
	case models.RoleStudent:
		all, err := s.classes.List(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
		}
		enrolled := make([]*models.ClassRoom, 0)
		for _, class := range all {
			if class.HasStudent(claims.UserID) {
				enrolled = append(enrolled, class)
			}
		}
		return enrolled, nil
	default:
		return nil, appErrors.ErrForbidden
	}
}

// Get loads one class the caller is allowed to see.
func (s *ClassService) Get(ctx context.Context, classID string, claims *models.JWTClaims) (*models.ClassRoom, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	switch claims.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		if class.TeacherID != claims.UserID {
			return nil, appErrors.ErrForbidden
		}
	case models.RoleStudent:
		if !class.HasStudent(claims.UserID) {
			return nil, appErrors.ErrNotEnrolled
		}
	default:
		return nil, appErrors.ErrForbidden
	}
	return class, nil
}

// Course loads the course a class follows, including its book list.
func (s *ClassService) Course(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.ErrCourseNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}
