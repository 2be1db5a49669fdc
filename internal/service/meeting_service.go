package service

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/talim-live-api/internal/models"
	"github.com/noah-isme/talim-live-api/pkg/config"
	appErrors "github.com/noah-isme/talim-live-api/pkg/errors"
)

// MeetingRequest describes the time-boxed video-meeting resource to provision.
type MeetingRequest struct {
	TeacherID      string
	OrganizerEmail string
	Title          string
	Start          time.Time
	Duration       time.Duration
	AttendeeEmails []string
}

// MeetingProvisioner creates, updates and deletes external meeting resources.
type MeetingProvisioner interface {
	CreateMeeting(ctx context.Context, req MeetingRequest) (*models.MeetingResource, error)
	UpdateMeeting(ctx context.Context, teacherID, organizerEmail, eventID string, req MeetingRequest) (*models.MeetingResource, error)
	DeleteMeeting(ctx context.Context, teacherID, organizerEmail, eventID string) error
	GetMeeting(ctx context.Context, teacherID, organizerEmail, eventID string) (*models.MeetingResource, error)
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// CalendarProvisioner provisions meetings through a calendar events API using
// the OAuth 2.0 JWT-bearer flow with per-teacher delegated credentials.
// Access tokens are cached per teacher and checked for freshness before reuse.
type CalendarProvisioner struct {
	cfg    config.MeetingConfig
	client *http.Client
	logger *zap.Logger
	key    *rsa.PrivateKey

	mu     sync.Mutex
	tokens map[string]cachedToken

	now func() time.Time
}

// NewCalendarProvisioner parses the signing key and builds the provisioner.
func NewCalendarProvisioner(cfg config.MeetingConfig, logger *zap.Logger) (*CalendarProvisioner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse meeting signing key: %w", err)
	}
	return &CalendarProvisioner{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
		key:    key,
		tokens: map[string]cachedToken{},
		now:    time.Now,
	}, nil
}

type calendarEvent struct {
	ID      string `json:"id,omitempty"`
	Summary string `json:"summary"`
	Start   struct {
		DateTime time.Time `json:"dateTime"`
	} `json:"start"`
	End struct {
		DateTime time.Time `json:"dateTime"`
	} `json:"end"`
	Attendees []struct {
		Email string `json:"email"`
	} `json:"attendees,omitempty"`
	HangoutLink string `json:"hangoutLink,omitempty"`
}

// CreateMeeting provisions a new calendar event with a conferencing link.
func (p *CalendarProvisioner) CreateMeeting(ctx context.Context, req MeetingRequest) (*models.MeetingResource, error) {
	event := buildEvent(req)
	resource, err := p.eventCall(ctx, req.TeacherID, req.OrganizerEmail, http.MethodPost, p.eventsURL(""), event)
	if err != nil {
		return nil, provisionError(err, "create meeting failed")
	}
	return resource, nil
}

// UpdateMeeting patches an existing event.
func (p *CalendarProvisioner) UpdateMeeting(ctx context.Context, teacherID, organizerEmail, eventID string, req MeetingRequest) (*models.MeetingResource, error) {
	event := buildEvent(req)
	resource, err := p.eventCall(ctx, teacherID, organizerEmail, http.MethodPatch, p.eventsURL(eventID), event)
	if err != nil {
		return nil, provisionError(err, "update meeting "+eventID+" failed")
	}
	return resource, nil
}

// DeleteMeeting removes the event.
func (p *CalendarProvisioner) DeleteMeeting(ctx context.Context, teacherID, organizerEmail, eventID string) error {
	if _, err := p.eventCall(ctx, teacherID, organizerEmail, http.MethodDelete, p.eventsURL(eventID), nil); err != nil {
		return provisionError(err, "delete meeting "+eventID+" failed")
	}
	return nil
}

// GetMeeting fetches the event by id.
func (p *CalendarProvisioner) GetMeeting(ctx context.Context, teacherID, organizerEmail, eventID string) (*models.MeetingResource, error) {
	resource, err := p.eventCall(ctx, teacherID, organizerEmail, http.MethodGet, p.eventsURL(eventID), nil)
	if err != nil {
		return nil, provisionError(err, "get meeting "+eventID+" failed")
	}
	return resource, nil
}

func provisionError(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrMeetingProvision.Code, appErrors.ErrMeetingProvision.Status, message)
}

func buildEvent(req MeetingRequest) *calendarEvent {
	event := &calendarEvent{Summary: req.Title}
	event.Start.DateTime = req.Start
	event.End.DateTime = req.Start.Add(req.Duration)
	for _, email := range req.AttendeeEmails {
		event.Attendees = append(event.Attendees, struct {
			Email string `json:"email"`
		}{Email: email})
	}
	return event
}

func (p *CalendarProvisioner) eventsURL(eventID string) string {
	if eventID == "" {
		return p.cfg.EventsURL
	}
	return strings.TrimRight(p.cfg.EventsURL, "/") + "/" + url.PathEscape(eventID)
}

func (p *CalendarProvisioner) eventCall(ctx context.Context, teacherID, organizerEmail, method, endpoint string, event *calendarEvent) (*models.MeetingResource, error) {
	token, err := p.accessToken(ctx, teacherID, organizerEmail)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if event != nil {
		raw, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("encode event: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if event != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("calendar API %s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result calendarEvent
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode event response: %w", err)
	}
	return &models.MeetingResource{
		Link:      result.HangoutLink,
		EventID:   result.ID,
		StartTime: result.Start.DateTime,
		EndTime:   result.End.DateTime,
	}, nil
}

// accessToken returns a cached delegated token for the teacher when still
// fresh, otherwise exchanges a new JWT-bearer assertion.
func (p *CalendarProvisioner) accessToken(ctx context.Context, teacherID, organizerEmail string) (string, error) {
	p.mu.Lock()
	cached, ok := p.tokens[teacherID]
	p.mu.Unlock()
	if ok && p.now().Add(p.cfg.TokenExpirySkew).Before(cached.expiresAt) {
		return cached.value, nil
	}

	assertion, err := p.signAssertion(organizerEmail)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token exchange: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	token := cachedToken{
		value:     tokenResp.AccessToken,
		expiresAt: p.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}
	p.mu.Lock()
	p.tokens[teacherID] = token
	p.mu.Unlock()

	return token.value, nil
}

func (p *CalendarProvisioner) signAssertion(organizerEmail string) (string, error) {
	now := p.now()
	claims := jwt.MapClaims{
		"iss":   p.cfg.ServiceAccount,
		"sub":   organizerEmail,
		"scope": p.cfg.Scope,
		"aud":   p.cfg.TokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.key)
}
