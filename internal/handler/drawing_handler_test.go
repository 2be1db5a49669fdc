package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/talim-live-api/internal/dto"
	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/repository"
	"github.com/noah-isme/talim-live-api/internal/service"
	"github.com/noah-isme/talim-live-api/internal/store"
	"github.com/noah-isme/talim-live-api/pkg/config"
)

func newDrawingHandler(t *testing.T) *DrawingHandler {
	t.Helper()
	mem := store.NewMemory(nil)

	require.NoError(t, mem.Put(context.Background(), store.CollectionSessions, "sess-1", map[string]interface{}{
		"classId":   "class-1",
		"teacherId": "teacher-1",
		"status":    "active",
		"book":      "book-a",
		"studentProgress": map[string]interface{}{
			"stu-1": map[string]interface{}{"currentPage": 1, "status": "joined"},
		},
	}))

	svc := service.NewAnnotationService(repository.NewDrawingRepository(mem), repository.NewSessionRepository(mem),
		config.SessionsConfig{DrawingKeep: 20}, nil, nil)
	return NewDrawingHandler(svc)
}

func TestDrawingHandlerSaveAndLatest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newDrawingHandler(t)

	payload, _ := json.Marshal(dto.SaveDrawingRequest{
		SessionID: "sess-1",
		Page:      4,
		Lines: []models.Stroke{
			{Tool: "pen", Color: "#000000", Width: 2, Points: []models.Point{{X: 1, Y: 2}}},
		},
	})
	c, w := newGinContext(http.MethodPost, "/drawings", payload)
	asStudent(c, "stu-1")
	h.Save(c)
	require.Equal(t, http.StatusCreated, w.Code)

	c, w = newGinContext(http.MethodGet, "/drawings/latest?classId=class-1&book=book-a&page=4&studentId=stu-1", nil)
	asStudent(c, "stu-1")
	h.Latest(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data models.Drawing `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data.Lines, 1)
}

func TestDrawingHandlerLatestRequiresFullTuple(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newDrawingHandler(t)

	c, w := newGinContext(http.MethodGet, "/drawings/latest?classId=class-1", nil)
	asStudent(c, "stu-1")
	h.Latest(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDrawingHandlerSaveForbiddenForImpersonation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newDrawingHandler(t)

	payload, _ := json.Marshal(dto.SaveDrawingRequest{
		SessionID: "sess-1",
		Page:      4,
		StudentID: "stu-2",
	})
	c, w := newGinContext(http.MethodPost, "/drawings", payload)
	asStudent(c, "stu-1")
	h.Save(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestDrawingHandlerHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newDrawingHandler(t)

	for i := 0; i < 3; i++ {
		payload, _ := json.Marshal(dto.SaveDrawingRequest{SessionID: "sess-1", Page: 4})
		c, w := newGinContext(http.MethodPost, "/drawings", payload)
		asStudent(c, "stu-1")
		h.Save(c)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	c, w := newGinContext(http.MethodGet, "/drawings/history?classId=class-1&book=book-a&page=4&studentId=stu-1&limit=2", nil)
	asStudent(c, "stu-1")
	h.History(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data []models.Drawing `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 2)
}
