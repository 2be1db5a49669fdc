package repository

import (
	"context"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/store"
)

// CourseRepository reads course metadata.
type CourseRepository struct {
	store store.Store
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(s store.Store) *CourseRepository {
	return &CourseRepository{store: s}
}

// FindByID loads one course.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	doc, err := r.store.Get(ctx, store.CollectionCourses, id)
	if err != nil {
		return nil, err
	}
	course := &models.Course{}
	if err := doc.Decode(course); err != nil {
		return nil, err
	}
	course.ID = doc.Key
	return course, nil
}
