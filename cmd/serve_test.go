package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/annotated-calllog/internal/model"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	env := newTestEnv(t)
	srv := httptest.NewServer(newRouter(env, nil))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestRefreshEndpoint_DirtyCheck(t *testing.T) {
	srv := newTestServer(t)

	// A fresh install always rebuilds once.
	resp := doJSON(t, http.MethodPost, srv.URL+"/refresh?check_dirty=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "REBUILT_BUT_NO_CHANGES_NEEDED", decode[map[string]string](t, resp)["result"])

	resp = doJSON(t, http.MethodPost, srv.URL+"/refresh?check_dirty=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "NOT_DIRTY", decode[map[string]string](t, resp)["result"])
}

func TestDeviceEndpoints_AnnotateCallLog(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/device/contacts", map[string]any{
		"name":   "Jane Doe",
		"phones": []map[string]any{{"number": "650-253-0000", "label": "Mobile"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/device/calls", map[string]any{
		"number": "6502530000", "type": "incoming", "duration_secs": 30,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	janeCall := decode[map[string]int64](t, resp)["id"]

	resp = doJSON(t, http.MethodPost, srv.URL+"/device/blocked", map[string]any{"number": "6502530001", "blocked": true})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/device/calls", map[string]any{"number": "6502530001", "type": "blocked"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	blockedCall := decode[map[string]int64](t, resp)["id"]

	resp = doJSON(t, http.MethodPost, srv.URL+"/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "REBUILT_AND_CHANGES_NEEDED", decode[map[string]string](t, resp)["result"])

	resp = doJSON(t, http.MethodGet, srv.URL+"/calllog", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := decode[[]model.AnnotatedRow](t, resp)
	require.Len(t, rows, 2)

	byID := make(map[int64]model.AnnotatedRow)
	for _, r := range rows {
		byID[r.ID] = r
	}
	require.Contains(t, byID, janeCall)
	assert.Equal(t, "Jane Doe", model.Value(byID[janeCall].Name))
	assert.Equal(t, "Mobile", model.Value(byID[janeCall].NumberTypeLabel))
	assert.False(t, model.Value(byID[janeCall].IsBlocked))
	require.Contains(t, byID, blockedCall)
	assert.True(t, model.Value(byID[blockedCall].IsBlocked))

	resp = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/device/calls/%d", srv.URL, blockedCall), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/calllog?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows = decode[[]model.AnnotatedRow](t, resp)
	require.Len(t, rows, 1)
	assert.Equal(t, janeCall, rows[0].ID)
}

func TestLookupEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/device/contacts", map[string]any{
		"name":   "Jane Doe",
		"phones": []map[string]any{{"number": "650-253-0000", "label": "Work"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/lookup/6502530000", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[lookupResult](t, resp)
	assert.Equal(t, "+16502530000", res.Number.NormalizedNumber)
	assert.Equal(t, "Jane Doe", res.Selected.Name)
	assert.Equal(t, string(model.SourceDefaultCp2), res.Selected.NameSource)
	assert.Equal(t, "Work", res.Selected.NumberLabel)
	assert.Equal(t, "(650) 253-0000", res.Selected.FormattedNumber)
	assert.False(t, res.Selected.IsEmergency)

	resp = doJSON(t, http.MethodGet, srv.URL+"/lookup/911", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode[lookupResult](t, resp)
	assert.True(t, res.Selected.IsEmergency)
	assert.Empty(t, res.Selected.Name)
}

func TestDeviceEndpoints_Validation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad call type", http.MethodPost, "/device/calls", map[string]any{"number": "911", "type": "sideways"}, http.StatusBadRequest},
		{"non-numeric call id", http.MethodDelete, "/device/calls/abc", nil, http.StatusBadRequest},
		{"zero contact id", http.MethodDelete, "/device/contacts/0", nil, http.StatusBadRequest},
		{"contact without name", http.MethodPost, "/device/contacts", map[string]any{"phones": []any{}}, http.StatusBadRequest},
		{"blocked without number", http.MethodPost, "/device/blocked", map[string]any{"blocked": true}, http.StatusBadRequest},
		{"negative limit", http.MethodGet, "/calllog?limit=-1", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, decode[map[string]string](t, resp)["error"])
		})
	}
}

func TestInvalidJSONBody(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/device/calls", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelRefresh_WithoutRefresher(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/refresh/cancel", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/calllog", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
