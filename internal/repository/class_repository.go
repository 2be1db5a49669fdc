package repository

import (
	"context"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/store"
)

// ClassRepository reads classroom rosters. The session coordinator owns only
// the activeSession pointer; the rest of the class document belongs to the
// CRUD surface outside this core.
type ClassRepository struct {
	store store.Store
}

// NewClassRepository constructs the repository.
func NewClassRepository(s store.Store) *ClassRepository {
	return &ClassRepository{store: s}
}

// FindByID loads one classroom.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.ClassRoom, error) {
	doc, err := r.store.Get(ctx, store.CollectionClasses, id)
	if err != nil {
		return nil, err
	}
	class := &models.ClassRoom{}
	if err := doc.Decode(class); err != nil {
		return nil, err
	}
	class.ID = doc.Key
	return class, nil
}

// FindByTeacher lists the classrooms owned by one teacher.
func (r *ClassRepository) FindByTeacher(ctx context.Context, teacherID string) ([]*models.ClassRoom, error) {
	docs, err := r.store.Find(ctx, store.CollectionClasses, store.Query{
		Filters: []store.Filter{{Field: "teacherId", Value: teacherID}},
		OrderBy: "name",
	})
	if err != nil {
		return nil, err
	}
	return decodeClasses(docs)
}

// List returns every classroom. Roster membership is filtered by the caller
// since array containment is not part of the store's filter contract.
func (r *ClassRepository) List(ctx context.Context) ([]*models.ClassRoom, error) {
	docs, err := r.store.Find(ctx, store.CollectionClasses, store.Query{OrderBy: "name"})
	if err != nil {
		return nil, err
	}
	return decodeClasses(docs)
}

func decodeClasses(docs []*store.Document) ([]*models.ClassRoom, error) {
	classes := make([]*models.ClassRoom, 0, len(docs))
	for _, doc := range docs {
		class := &models.ClassRoom{}
		if err := doc.Decode(class); err != nil {
			return nil, err
		}
		class.ID = doc.Key
		classes = append(classes, class)
	}
	return classes, nil
}

// SetActiveSession points the class at its running session.
func (r *ClassRepository) SetActiveSession(ctx context.Context, classID, sessionID string) error {
	return r.store.Update(ctx, store.CollectionClasses, classID, 0, store.Set("activeSession", sessionID))
}

// ClearActiveSession removes the pointer after termination or drift repair.
func (r *ClassRepository) ClearActiveSession(ctx context.Context, classID string) error {
	return r.store.Update(ctx, store.CollectionClasses, classID, 0, store.Delete("activeSession"))
}
