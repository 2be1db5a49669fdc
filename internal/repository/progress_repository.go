package repository

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/store"
)

// ProgressRepository persists the durable per-(class, student) history
// records. Documents are keyed deterministically so the aggregator can
// upsert without a lookup query.
type ProgressRepository struct {
	store store.Store
}

// NewProgressRepository constructs the repository.
func NewProgressRepository(s store.Store) *ProgressRepository {
	return &ProgressRepository{store: s}
}

func progressKey(classID, studentID string) string {
	return classID + ":" + studentID
}

// Get loads a student's cumulative record, returning an empty record (not an
// error) when none exists yet.
func (r *ProgressRepository) Get(ctx context.Context, classID, studentID string) (*models.StudentProgressRecord, int64, error) {
	doc, err := r.store.Get(ctx, store.CollectionProgress, progressKey(classID, studentID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &models.StudentProgressRecord{ClassID: classID, StudentID: studentID}, 0, nil
		}
		return nil, 0, err
	}
	record := &models.StudentProgressRecord{}
	if err := doc.Decode(record); err != nil {
		return nil, 0, err
	}
	return record, doc.Version, nil
}

// Append adds one session history entry and one assessment entry to the
// record. Read-modify-write of the whole document; baseVersion lets the
// store flag concurrent terminations for audit.
func (r *ProgressRepository) Append(ctx context.Context, record *models.StudentProgressRecord, baseVersion int64, history models.SessionHistory, assessment models.AssessmentRecord) error {
	record.Sessions = append(record.Sessions, history)
	record.Assessments = append(record.Assessments, assessment)
	record.UpdatedAt = time.Now().UTC()

	key := progressKey(record.ClassID, record.StudentID)
	if baseVersion == 0 {
		data, err := store.Encode(record)
		if err != nil {
			return err
		}
		return r.store.Put(ctx, store.CollectionProgress, key, data)
	}
	return r.store.Update(ctx, store.CollectionProgress, key, baseVersion,
		store.Set("sessions", record.Sessions),
		store.Set("assessments", record.Assessments),
		store.Set("updatedAt", record.UpdatedAt),
	)
}
