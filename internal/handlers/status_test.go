package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpreston/gatekeeper/internal/services"
)

type mockStatsProvider struct {
	stats services.Stats
}

func (m *mockStatsProvider) Snapshot() services.Stats { return m.stats }

type mockIgnoreList struct {
	addrs map[string]bool
}

func newMockIgnoreList(addrs ...string) *mockIgnoreList {
	m := &mockIgnoreList{addrs: make(map[string]bool)}
	for _, a := range addrs {
		m.addrs[a] = true
	}
	return m
}

func (m *mockIgnoreList) AddIgnored(ip string) bool {
	if m.addrs[ip] {
		return false
	}
	m.addrs[ip] = true
	return true
}

func (m *mockIgnoreList) Ignored() []string {
	var out []string
	for a := range m.addrs {
		out = append(out, a)
	}
	return out
}

func TestHealthCheck(t *testing.T) {
	handler := NewStatusHandler(&mockStatsProvider{}, newMockIgnoreList())

	req := httptest.NewRequest("GET", "/health", nil)
	recorder := httptest.NewRecorder()
	handler.HealthCheck(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())
}

func TestGetStats(t *testing.T) {
	stats := services.Stats{
		Attempts:          120,
		Queued:            40,
		Released:          32,
		Rejected:          map[string]uint64{"rate_limited": 70, "bot_detected": 10},
		QueueDepth:        8,
		AttemptsPerSecond: 12,
		BudgetRemaining:   188,
	}
	handler := NewStatusHandler(&mockStatsProvider{stats: stats}, newMockIgnoreList())

	req := httptest.NewRequest("GET", "/v1/stats", nil)
	recorder := httptest.NewRecorder()
	handler.GetStats(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var got services.Stats
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &got))
	assert.Equal(t, stats, got)
}

func TestListIgnored(t *testing.T) {
	handler := NewStatusHandler(&mockStatsProvider{}, newMockIgnoreList("10.0.0.2", "10.0.0.1"))

	req := httptest.NewRequest("GET", "/v1/ignored", nil)
	recorder := httptest.NewRecorder()
	handler.ListIgnored(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var resp IgnoredListResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, resp.Addresses)
}

func TestListIgnored_Empty(t *testing.T) {
	handler := NewStatusHandler(&mockStatsProvider{}, newMockIgnoreList())

	req := httptest.NewRequest("GET", "/v1/ignored", nil)
	recorder := httptest.NewRecorder()
	handler.ListIgnored(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"addresses":[]}`, recorder.Body.String())
}

func TestAddIgnored(t *testing.T) {
	ignores := newMockIgnoreList()
	handler := NewStatusHandler(&mockStatsProvider{}, ignores)

	req := httptest.NewRequest("POST", "/v1/ignored", strings.NewReader(`{"address":"192.168.1.50"}`))
	recorder := httptest.NewRecorder()
	handler.AddIgnored(recorder, req)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.True(t, ignores.addrs["192.168.1.50"])
}

func TestAddIgnored_Duplicate(t *testing.T) {
	handler := NewStatusHandler(&mockStatsProvider{}, newMockIgnoreList("192.168.1.50"))

	req := httptest.NewRequest("POST", "/v1/ignored", strings.NewReader(`{"address":"192.168.1.50"}`))
	recorder := httptest.NewRecorder()
	handler.AddIgnored(recorder, req)

	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestAddIgnored_InvalidAddress(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not an ip", `{"address":"not-an-ip"}`},
		{"empty address", `{"address":""}`},
		{"missing field", `{}`},
		{"hostname", `{"address":"example.com"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ignores := newMockIgnoreList()
			handler := NewStatusHandler(&mockStatsProvider{}, ignores)

			req := httptest.NewRequest("POST", "/v1/ignored", strings.NewReader(tt.body))
			recorder := httptest.NewRecorder()
			handler.AddIgnored(recorder, req)

			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			assert.Empty(t, ignores.addrs)
		})
	}
}

func TestAddIgnored_IPv6(t *testing.T) {
	ignores := newMockIgnoreList()
	handler := NewStatusHandler(&mockStatsProvider{}, ignores)

	req := httptest.NewRequest("POST", "/v1/ignored", strings.NewReader(`{"address":"::1"}`))
	recorder := httptest.NewRecorder()
	handler.AddIgnored(recorder, req)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.True(t, ignores.addrs["::1"])
}

func TestAddIgnored_MalformedBody(t *testing.T) {
	handler := NewStatusHandler(&mockStatsProvider{}, newMockIgnoreList())

	req := httptest.NewRequest("POST", "/v1/ignored", strings.NewReader("not json"))
	recorder := httptest.NewRecorder()
	handler.AddIgnored(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}
