package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshbridge/internal/config"
	"meshbridge/internal/filter"
	"meshbridge/internal/link"
	"meshbridge/internal/logger"
	"meshbridge/internal/router"
	"meshbridge/internal/tracker"
	"meshbridge/pkg/health"
	"meshbridge/pkg/models"
)

type fakeLink struct {
	name string
	sent []string
}

func (f *fakeLink) Name() string { return f.name }

func (f *fakeLink) Send(ctx context.Context, text string, channel int) error {
	f.sent = append(f.sent, text)
	return nil
}

type testAPI struct {
	engine  *gin.Engine
	tracker *tracker.Tracker
	router  *router.Router
	lora0   *fakeLink
	lora1   *fakeLink
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	log := logger.NopLogger()
	tr := tracker.New(10*time.Minute, 1000, log)
	fe, err := filter.NewEngine(config.FilteringConfig{Enabled: true}, log)
	require.NoError(t, err)

	lora0 := &fakeLink{name: "lora0"}
	lora1 := &fakeLink{name: "lora1"}
	reg := link.NewRegistry()
	reg.Register(lora0)
	reg.Register(lora1)

	rt := router.New(tr, fe, reg, nil, log, time.Second)

	checks := health.NewCheckerRegistry()
	checks.Register(health.NewLinksChecker(reg.Count))

	h := &Handlers{
		Tracker:  tr,
		Filter:   fe,
		Router:   rt,
		Registry: reg,
	}

	engine := NewRouter(&config.Config{}, h, checks, log)
	return &testAPI{engine: engine, tracker: tr, router: rt, lora0: lora0, lora1: lora1}
}

func (a *testAPI) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)

	w := a.request(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body health.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, health.StatusHealthy, body.Status)
}

func TestSend(t *testing.T) {
	a := newTestAPI(t)

	w := a.request(t, http.MethodPost, "/api/v1/send", `{"target":"lora1","text":"operator message","channel":1}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"operator message"}, a.lora1.sent)
	assert.Empty(t, a.lora0.sent)
}

func TestSend_UnknownLink(t *testing.T) {
	a := newTestAPI(t)

	w := a.request(t, http.MethodPost, "/api/v1/send", `{"target":"ghost","text":"hi"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSend_MissingText(t *testing.T) {
	a := newTestAPI(t)

	w := a.request(t, http.MethodPost, "/api/v1/send", `{"target":"lora1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecentMessages(t *testing.T) {
	a := newTestAPI(t)

	a.router.OnReceive(context.Background(), "lora0", models.Packet{
		ID:      "1",
		From:    "!abc123456",
		To:      models.Broadcast,
		Payload: []byte("hello"),
	})

	w := a.request(t, http.MethodGet, "/api/v1/messages/recent?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Messages []tracker.Entry `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "hello", body.Messages[0].Text)
	assert.True(t, body.Messages[0].Forwarded)
}

func TestMessageHistory_Unavailable(t *testing.T) {
	a := newTestAPI(t)

	w := a.request(t, http.MethodGet, "/api/v1/messages/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStats(t *testing.T) {
	a := newTestAPI(t)

	w := a.request(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "tracker")
	assert.Contains(t, body, "filter")
	assert.Contains(t, body, "links")
}

func TestLinks(t *testing.T) {
	a := newTestAPI(t)

	w := a.request(t, http.MethodGet, "/api/v1/links", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Links []struct {
			Name string `json:"name"`
		} `json:"links"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Links, 2)
	assert.Equal(t, "lora0", body.Links[0].Name)
	assert.Equal(t, "lora1", body.Links[1].Name)
}

func TestRulesCRUD(t *testing.T) {
	a := newTestAPI(t)

	w := a.request(t, http.MethodPost, "/api/v1/rules",
		`{"name":"block-spam","kind":"keyword","pattern":"spam","action":"block","priority":5}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = a.request(t, http.MethodGet, "/api/v1/rules", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Rules []filter.Rule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Rules, 1)
	assert.Equal(t, "block-spam", body.Rules[0].Name)

	w = a.request(t, http.MethodDelete, "/api/v1/rules/block-spam", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.request(t, http.MethodDelete, "/api/v1/rules/block-spam", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRules_InvalidRejected(t *testing.T) {
	a := newTestAPI(t)

	w := a.request(t, http.MethodPost, "/api/v1/rules",
		`{"name":"bad","kind":"regex","pattern":"(unclosed","action":"block"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBlocklist(t *testing.T) {
	a := newTestAPI(t)

	w := a.request(t, http.MethodPost, "/api/v1/filter/blocklist", `{"node":"!bad123456"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = a.request(t, http.MethodGet, "/api/v1/filter/blocklist", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Nodes []string `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"!bad123456"}, body.Nodes)

	w = a.request(t, http.MethodDelete, "/api/v1/filter/blocklist/!bad123456", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.request(t, http.MethodDelete, "/api/v1/filter/blocklist/!bad123456", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
