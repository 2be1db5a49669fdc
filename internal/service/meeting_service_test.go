package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/talim-live-api/pkg/config"
	appErrors "github.com/noah-isme/talim-live-api/pkg/errors"
)

type calendarStub struct {
	exchanges  int
	assertions []string
	lastAuth   string
	eventCalls int
	failEvents int
}

func newCalendarServer(t *testing.T) (*httptest.Server, *calendarStub) {
	t.Helper()
	stub := &calendarStub{}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.Form.Get("grant_type"))
		require.NotEmpty(t, r.Form.Get("assertion"))
		stub.exchanges++
		stub.assertions = append(stub.assertions, r.Form.Get("assertion"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("tok-%d", stub.exchanges),
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		stub.eventCalls++
		stub.lastAuth = r.Header.Get("Authorization")
		if stub.failEvents > 0 {
			stub.failEvents--
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "evt-1",
			"summary":     "Class 7A: book-a",
			"start":       map[string]string{"dateTime": "2026-03-14T09:00:00Z"},
			"end":         map[string]string{"dateTime": "2026-03-14T10:00:00Z"},
			"hangoutLink": "https://meet.example/abc",
		})
	})
	mux.HandleFunc("/events/", func(w http.ResponseWriter, r *http.Request) {
		stub.eventCalls++
		stub.lastAuth = r.Header.Get("Authorization")
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "evt-1",
			"hangoutLink": "https://meet.example/abc",
			"start":       map[string]string{"dateTime": "2026-03-14T09:00:00Z"},
			"end":         map[string]string{"dateTime": "2026-03-14T10:00:00Z"},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, stub
}

func testSigningKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return string(pem.EncodeToMemory(block))
}

func newTestProvisioner(t *testing.T, server *httptest.Server) *CalendarProvisioner {
	t.Helper()
	provisioner, err := NewCalendarProvisioner(config.MeetingConfig{
		Enabled:         true,
		TokenURL:        server.URL + "/token",
		EventsURL:       server.URL + "/events",
		ServiceAccount:  "svc@talim.example",
		PrivateKeyPEM:   testSigningKeyPEM(t),
		Scope:           "calendar.events",
		TokenExpirySkew: time.Minute,
		RequestTimeout:  5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return provisioner
}

func meetingRequest() MeetingRequest {
	return MeetingRequest{
		TeacherID:      "teacher-1",
		OrganizerEmail: "teacher@talim.example",
		Title:          "Class 7A: book-a",
		Start:          time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Duration:       time.Hour,
		AttendeeEmails: []string{"stu1@talim.example"},
	}
}

func TestMeetingCreateBuildsResource(t *testing.T) {
	server, stub := newCalendarServer(t)
	provisioner := newTestProvisioner(t, server)

	resource, err := provisioner.CreateMeeting(context.Background(), meetingRequest())
	require.NoError(t, err)

	assert.Equal(t, "evt-1", resource.EventID)
	assert.Equal(t, "https://meet.example/abc", resource.Link)
	assert.Equal(t, 1, stub.exchanges)
	assert.Equal(t, "Bearer tok-1", stub.lastAuth)
}

func TestMeetingTokenIsCachedAcrossCalls(t *testing.T) {
	server, stub := newCalendarServer(t)
	provisioner := newTestProvisioner(t, server)
	ctx := context.Background()

	_, err := provisioner.CreateMeeting(ctx, meetingRequest())
	require.NoError(t, err)
	_, err = provisioner.CreateMeeting(ctx, meetingRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, stub.exchanges)
	assert.Equal(t, 2, stub.eventCalls)
}

func TestMeetingTokenRefreshesNearExpiry(t *testing.T) {
	server, stub := newCalendarServer(t)
	provisioner := newTestProvisioner(t, server)
	ctx := context.Background()

	base := time.Now()
	provisioner.now = func() time.Time { return base }

	_, err := provisioner.CreateMeeting(ctx, meetingRequest())
	require.NoError(t, err)
	require.Equal(t, 1, stub.exchanges)

	// Within the skew window of the 3600s expiry a fresh token is fetched.
	provisioner.now = func() time.Time { return base.Add(3600*time.Second - 30*time.Second) }
	_, err = provisioner.CreateMeeting(ctx, meetingRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, stub.exchanges)
	assert.Equal(t, "Bearer tok-2", stub.lastAuth)
}

func TestMeetingTokensAreScopedPerTeacher(t *testing.T) {
	server, stub := newCalendarServer(t)
	provisioner := newTestProvisioner(t, server)
	ctx := context.Background()

	_, err := provisioner.CreateMeeting(ctx, meetingRequest())
	require.NoError(t, err)

	other := meetingRequest()
	other.TeacherID = "teacher-2"
	other.OrganizerEmail = "other@talim.example"
	_, err = provisioner.CreateMeeting(ctx, other)
	require.NoError(t, err)

	assert.Equal(t, 2, stub.exchanges)
}

func TestMeetingDelete(t *testing.T) {
	server, _ := newCalendarServer(t)
	provisioner := newTestProvisioner(t, server)

	err := provisioner.DeleteMeeting(context.Background(), "teacher-1", "teacher@talim.example", "evt-1")
	assert.NoError(t, err)
}

func TestMeetingAPIErrorSurfaces(t *testing.T) {
	server, stub := newCalendarServer(t)
	stub.failEvents = 1
	provisioner := newTestProvisioner(t, server)

	_, err := provisioner.CreateMeeting(context.Background(), meetingRequest())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrMeetingProvision))
	assert.Contains(t, err.Error(), "403")
}

func TestMeetingRejectsGarbageKey(t *testing.T) {
	_, err := NewCalendarProvisioner(config.MeetingConfig{PrivateKeyPEM: "not-a-key"}, nil)
	assert.Error(t, err)
}
