package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/internal/store"
	"github.com/noah-isme/talim-live-api/pkg/config"
	appErrors "github.com/noah-isme/talim-live-api/pkg/errors"
	"github.com/noah-isme/talim-live-api/pkg/export"
)

type progressReader interface {
	Get(ctx context.Context, classID, studentID string) (*models.StudentProgressRecord, int64, error)
}

type exportClassReader interface {
	FindByID(ctx context.Context, id string) (*models.ClassRoom, error)
}

type exportUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// ExportFormat selects the report output encoding.
type ExportFormat string

const (
	FormatPDF ExportFormat = "pdf"
	FormatCSV ExportFormat = "csv"
)

// ExportResult is the rendered report plus HTTP delivery metadata.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportService renders a student's cumulative progress record as a
// downloadable report.
type ExportService struct {
	progress progressReader
	classes  exportClassReader
	users    exportUserReader
	pdf      *export.PDFExporter
	csv      *export.CSVExporter
	cfg      config.ReportsConfig
	logger   *zap.Logger
}

// NewExportService builds the report renderer.
func NewExportService(progress progressReader, classes exportClassReader, users exportUserReader, cfg config.ReportsConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		progress: progress,
		classes:  classes,
		users:    users,
		pdf:      export.NewPDFExporter(),
		csv:      export.NewCSVExporter(),
		cfg:      cfg,
		logger:   logger,
	}
}

// StudentReport renders the cumulative record for one student in a class.
// Teachers may export any roster student; students only themselves.
func (s *ExportService) StudentReport(ctx context.Context, classID, studentID string, format ExportFormat, claims *models.JWTClaims) (*ExportResult, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleStudent && claims.UserID != studentID {
		return nil, appErrors.ErrForbidden
	}

	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if claims.Role == models.RoleTeacher && class.TeacherID != claims.UserID {
		return nil, appErrors.ErrForbidden
	}
	if !class.HasStudent(studentID) {
		return nil, appErrors.ErrNotEnrolled
	}

	record, _, err := s.progress.Get(ctx, classID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load progress record")
	}

	studentName := studentID
	if student, err := s.users.FindByID(ctx, studentID); err == nil {
		studentName = student.FullName
	}

	switch format {
	case FormatCSV:
		content, err := s.renderCSV(record)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "text/csv",
			Filename:    reportFilename(studentName, "csv"),
		}, nil
	case FormatPDF, "":
		content, err := s.renderPDF(record, studentName, class.Name)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    reportFilename(studentName, "pdf"),
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %q", format))
	}
}

func (s *ExportService) renderPDF(record *models.StudentProgressRecord, studentName, className string) ([]byte, error) {
	title := s.cfg.Title
	if title == "" {
		title = "Progress Report"
	}
	sections := []export.Section{
		{
			Title: fmt.Sprintf("%s / %s", className, studentName),
			Data:  sessionDataset(record.Sessions),
		},
		{
			Title: "Assessments",
			Data:  assessmentDataset(record.Assessments),
		},
	}
	return s.pdf.RenderSections(sections, title)
}

func (s *ExportService) renderCSV(record *models.StudentProgressRecord) ([]byte, error) {
	data := assessmentDataset(record.Assessments)

	// CSV carries one flat table; fold the session range into each row.
	byID := map[string]models.SessionHistory{}
	for _, h := range record.Sessions {
		byID[h.SessionID] = h
	}
	data.Headers = append([]string{"Session", "Date", "Book", "Pages"}, data.Headers[2:]...)
	for i, assessment := range record.Assessments {
		h := byID[assessment.SessionID]
		data.Rows[i]["Session"] = h.DisplayID
		data.Rows[i]["Book"] = h.Book
		data.Rows[i]["Pages"] = fmt.Sprintf("%d-%d", h.StartPage, h.EndPage)
	}
	return s.csv.Render(data)
}

func sessionDataset(history []models.SessionHistory) export.Dataset {
	data := export.Dataset{Headers: []string{"Session", "Date", "Book", "Start Page", "End Page"}}
	for _, h := range history {
		data.Rows = append(data.Rows, map[string]string{
			"Session":    h.DisplayID,
			"Date":       h.Date.Format("2006-01-02"),
			"Book":       h.Book,
			"Start Page": strconv.Itoa(h.StartPage),
			"End Page":   strconv.Itoa(h.EndPage),
		})
	}
	return data
}

func assessmentDataset(assessments []models.AssessmentRecord) export.Dataset {
	data := export.Dataset{Headers: []string{"Session", "Date", "Reading", "Pronunciation", "Memorization", "Strengths", "Improvements", "Notes"}}
	for _, a := range assessments {
		data.Rows = append(data.Rows, map[string]string{
			"Session":       a.SessionID,
			"Date":          a.Date.Format("2006-01-02"),
			"Reading":       strconv.Itoa(a.Reading),
			"Pronunciation": strconv.Itoa(a.Pronunciation),
			"Memorization":  strconv.Itoa(a.Memorization),
			"Strengths":     strings.Join(a.Strengths, "; "),
			"Improvements":  strings.Join(a.AreasOfImprovement, "; "),
			"Notes":         a.Notes,
		})
	}
	return data
}

func reportFilename(studentName, ext string) string {
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(studentName), " ", "-"))
	if slug == "" {
		slug = "student"
	}
	return fmt.Sprintf("progress-report-%s.%s", slug, ext)
}
