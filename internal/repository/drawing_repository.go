package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/store"
)

// DrawingRepository persists freehand annotation save events. Saves append;
// readers take the newest record for the tuple, which keeps teacher
// view-mode and student edit-mode from racing over one mutable slot.
type DrawingRepository struct {
	store store.Store
}

// NewDrawingRepository constructs the repository.
func NewDrawingRepository(s store.Store) *DrawingRepository {
	return &DrawingRepository{store: s}
}

// Append stores a new save event and returns its key.
func (r *DrawingRepository) Append(ctx context.Context, drawing *models.Drawing) (string, error) {
	data, err := store.Encode(drawing)
	if err != nil {
		return "", err
	}
	key, err := r.store.Create(ctx, store.CollectionDrawings, data)
	if err != nil {
		return "", fmt.Errorf("append drawing: %w", err)
	}
	return key, nil
}

func drawingFilters(classID, book string, page int, studentID string) []store.Filter {
	return []store.Filter{
		{Field: "classId", Value: classID},
		{Field: "book", Value: book},
		{Field: "page", Value: page},
		{Field: "studentId", Value: studentID},
	}
}

// Latest returns the newest save event for the tuple, or nil when the page
// has never been drawn on.
func (r *DrawingRepository) Latest(ctx context.Context, classID, book string, page int, studentID string) (*models.Drawing, error) {
	docs, err := r.store.Find(ctx, store.CollectionDrawings, store.Query{
		Filters: drawingFilters(classID, book, page, studentID),
		OrderBy: "savedAt",
		Desc:    true,
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("load latest drawing: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return decodeDrawing(docs[0])
}

// History returns recent save events for the tuple, newest first.
func (r *DrawingRepository) History(ctx context.Context, classID, book string, page int, studentID string, limit int) ([]*models.Drawing, error) {
	docs, err := r.store.Find(ctx, store.CollectionDrawings, store.Query{
		Filters: drawingFilters(classID, book, page, studentID),
		OrderBy: "savedAt",
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("load drawing history: %w", err)
	}
	drawings := make([]*models.Drawing, 0, len(docs))
	for _, doc := range docs {
		d, err := decodeDrawing(doc)
		if err != nil {
			return nil, err
		}
		drawings = append(drawings, d)
	}
	return drawings, nil
}

// Compact deletes all but the newest keep save events for the tuple,
// bounding the storage growth of the append-only history.
func (r *DrawingRepository) Compact(ctx context.Context, classID, book string, page int, studentID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	docs, err := r.store.Find(ctx, store.CollectionDrawings, store.Query{
		Filters: drawingFilters(classID, book, page, studentID),
		OrderBy: "savedAt",
		Desc:    true,
	})
	if err != nil {
		return 0, fmt.Errorf("list drawings for compaction: %w", err)
	}
	removed := 0
	for _, doc := range docs[min(keep, len(docs)):] {
		if err := r.store.Delete(ctx, store.CollectionDrawings, doc.Key); err != nil {
			return removed, fmt.Errorf("compact drawing %s: %w", doc.Key, err)
		}
		removed++
	}
	return removed, nil
}

// Tuples lists the distinct (classId, book, page, studentId) tuples present
// in the drawings collection for a class, for the compaction sweep.
func (r *DrawingRepository) Tuples(ctx context.Context, classID string) ([]models.Drawing, error) {
	docs, err := r.store.Find(ctx, store.CollectionDrawings, store.Query{
		Filters: []store.Filter{{Field: "classId", Value: classID}},
	})
	if err != nil {
		return nil, fmt.Errorf("list drawing tuples: %w", err)
	}
	seen := map[string]struct{}{}
	var tuples []models.Drawing
	for _, doc := range docs {
		d, err := decodeDrawing(doc)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("%s|%s|%d|%s", d.ClassID, d.Book, d.Page, d.StudentID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tuples = append(tuples, models.Drawing{ClassID: d.ClassID, Book: d.Book, Page: d.Page, StudentID: d.StudentID})
	}
	return tuples, nil
}

func decodeDrawing(doc *store.Document) (*models.Drawing, error) {
	d := &models.Drawing{}
	if err := doc.Decode(d); err != nil {
		return nil, err
	}
	d.ID = doc.Key
	return d, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
