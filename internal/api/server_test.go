package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asyncedit/internal/audit"
	"asyncedit/internal/engine"
	"asyncedit/internal/model"
	"asyncedit/internal/policy"
	"asyncedit/internal/preference"
	"asyncedit/internal/session"
	"asyncedit/internal/storage"
)

type testServer struct {
	handler http.Handler
	prefs   *preference.Memory
	guard   *audit.Guard
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	placer, stop := engine.NewPlacer(context.Background(), engine.PlacerCfg{Workers: 2})
	t.Cleanup(stop)

	worlds := storage.NewWorlds()
	allow := policy.NewAllowList(true, map[model.OperationKind]bool{model.OpRegen: false})
	prefs := preference.NewMemory()
	guard := audit.NewGuard(model.RegionKey{World: "world", Chunk: model.ChunkCoord{X: 10, Z: 10}})
	hook := audit.Chain{guard}
	if rec, ok := opts.Changes.(*audit.SQLiteRecorder); ok {
		hook = append(hook, rec)
	}

	mgr := session.NewManager(func(actor uuid.UUID, world string) (*session.Session, error) {
		ext := storage.NewExtent(worlds.Get(world), placer, storage.Unlimited)
		return session.New(ext, placer, session.Config{
			Actor:       actor,
			MaxQueued:   8,
			AllowList:   allow,
			Preferences: prefs,
			Hook:        hook,
		}), nil
	})
	t.Cleanup(func() { _ = mgr.CloseAll(context.Background()) })

	if opts.Preferences == nil {
		opts.Preferences = prefs
	}
	return &testServer{handler: NewServer(mgr, opts), prefs: prefs, guard: guard}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) open(t *testing.T, actor uuid.UUID) SessionResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/sessions", CreateSessionRequest{Actor: actor, World: "world"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[SessionResponse](t, rec)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func blockPath(id uuid.UUID, x, y, z int) string {
	return fmt.Sprintf("/sessions/%s/blocks/%d/%d/%d", id, x, y, z)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, Options{})
	actor := uuid.New()
	s := ts.open(t, actor)
	assert.Equal(t, actor, s.Actor)
	assert.Equal(t, "world", s.World)
	assert.Equal(t, storage.Unlimited, s.Limit)

	rec := ts.do(t, http.MethodGet, "/sessions/"+s.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, s.ID, decodeBody[SessionResponse](t, rec).ID)

	rec = ts.do(t, http.MethodDelete, "/sessions/"+s.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/sessions/"+s.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSessionValidation(t *testing.T) {
	ts := newTestServer(t, Options{})
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"missing world", fmt.Sprintf(`{"actor":%q}`, uuid.New())},
		{"nil actor", `{"actor":"00000000-0000-0000-0000-000000000000","world":"world"}`},
		{"unknown field", fmt.Sprintf(`{"actor":%q,"world":"w","color":"red"}`, uuid.New())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestWriteThenRead(t *testing.T) {
	ts := newTestServer(t, Options{})
	s := ts.open(t, uuid.New())

	rec := ts.do(t, http.MethodPut, blockPath(s.ID, 3, 64, -9), SetBlockRequest{Type: 4, Data: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[SetBlockResponse](t, rec).Changed)

	rec = ts.do(t, http.MethodGet, blockPath(s.ID, 3, 64, -9), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	b := decodeBody[BlockResponse](t, rec)
	require.NotNil(t, b.Type)
	require.NotNil(t, b.Data)
	assert.Equal(t, uint16(4), *b.Type)
	assert.Equal(t, uint8(2), *b.Data)

	rec = ts.do(t, http.MethodGet, blockPath(s.ID, 3, 64, -9)+"?kind=data", nil)
	b = decodeBody[BlockResponse](t, rec)
	assert.Nil(t, b.Type)
	assert.Equal(t, uint8(2), *b.Data)

	rec = ts.do(t, http.MethodGet, blockPath(s.ID, 3, 64, -9)+"?kind=type", nil)
	b = decodeBody[BlockResponse](t, rec)
	assert.Nil(t, b.Data)
	assert.Equal(t, uint16(4), *b.Type)

	rec = ts.do(t, http.MethodGet, blockPath(s.ID, 3, 64, -9)+"?kind=lazy", nil)
	b = decodeBody[BlockResponse](t, rec)
	assert.True(t, b.Lazy)
	assert.Equal(t, uint16(4), *b.Type)

	rec = ts.do(t, http.MethodGet, blockPath(s.ID, 3, 64, -9)+"?kind=biome", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, blockPath(s.ID, 3, 64, -9), SetBlockRequest{Type: 7, IfAir: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[SetBlockResponse](t, rec).Changed)
}

func TestBlockRequestErrors(t *testing.T) {
	ts := newTestServer(t, Options{})
	s := ts.open(t, uuid.New())

	rec := ts.do(t, http.MethodGet, blockPath(s.ID, 0, 300, 0), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, blockPath(s.ID, 1<<36, 10, 0), SetBlockRequest{Type: 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, blockPath(s.ID, 0, 10, -model.MaxHorizontal-1), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, blockPath(s.ID, 0, 10, 0)+"?kind=type", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.Air, *decodeBody[BlockResponse](t, rec).Type)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/sessions/%s/blocks/a/1/2", s.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, blockPath(s.ID, 0, 1, 0), SetBlockRequest{Type: 1, Data: 16})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, blockPath(s.ID, 0, 1, 0), `{"type":1,"job":-4}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, blockPath(uuid.New(), 0, 1, 0), SetBlockRequest{Type: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProtectedRegionIsForbidden(t *testing.T) {
	ts := newTestServer(t, Options{})
	s := ts.open(t, uuid.New())

	rec := ts.do(t, http.MethodPut, blockPath(s.ID, 161, 10, 170), SetBlockRequest{Type: 1})
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	ts.guard.Unprotect(model.RegionKey{World: "world", Chunk: model.ChunkCoord{X: 10, Z: 10}})
	rec = ts.do(t, http.MethodPut, blockPath(s.ID, 161, 10, 170), SetBlockRequest{Type: 1})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChangeBudget(t *testing.T) {
	ts := newTestServer(t, Options{})
	s := ts.open(t, uuid.New())

	rec := ts.do(t, http.MethodPut, "/sessions/"+s.ID.String()+"/limit", `{"limit":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[SessionResponse](t, rec).Limit)

	rec = ts.do(t, http.MethodPut, blockPath(s.ID, 0, 1, 0), SetBlockRequest{Type: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPut, blockPath(s.ID, 1, 1, 0), SetBlockRequest{Type: 1})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPut, "/sessions/"+s.ID.String()+"/limit", `{"limit":-2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsyncControls(t *testing.T) {
	ts := newTestServer(t, Options{})
	s := ts.open(t, uuid.New())
	base := "/sessions/" + s.ID.String()

	rec := ts.do(t, http.MethodPost, base+"/checks/REGEN", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decodeBody[CheckResponse](t, rec)
	assert.Equal(t, "regen", check.Operation)
	assert.False(t, check.Async)
	assert.True(t, check.Known)

	rec = ts.do(t, http.MethodGet, base, nil)
	assert.True(t, decodeBody[SessionResponse](t, rec).AsyncDisabled)

	rec = ts.do(t, http.MethodPost, base+"/flush", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[SessionResponse](t, rec).AsyncDisabled, "empty flush keeps the latch")

	rec = ts.do(t, http.MethodPost, base+"/async-reset", nil)
	assert.False(t, decodeBody[SessionResponse](t, rec).AsyncDisabled)

	rec = ts.do(t, http.MethodPut, base+"/async-forced", `{"forced":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[SessionResponse](t, rec).AsyncForced)

	rec = ts.do(t, http.MethodPost, base+"/checks/regen", nil)
	assert.True(t, decodeBody[CheckResponse](t, rec).Async)

	rec = ts.do(t, http.MethodPost, base+"/checks/teleport", nil)
	assert.False(t, decodeBody[CheckResponse](t, rec).Known)

	rec = ts.do(t, http.MethodPut, base+"/async-forced", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForcedSessionOnCreate(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodPost, "/sessions", CreateSessionRequest{Actor: uuid.New(), World: "w", AsyncForced: true})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, decodeBody[SessionResponse](t, rec).AsyncForced)
}

func TestFill(t *testing.T) {
	ts := newTestServer(t, Options{})
	s := ts.open(t, uuid.New())
	base := "/sessions/" + s.ID.String()

	job := 12
	rec := ts.do(t, http.MethodPost, base+"/fill", FillRequest{
		Operation: "fill",
		Job:       &job,
		From:      model.Position{X: 0, Y: 0, Z: 0},
		To:        model.Position{X: 3, Y: 3, Z: 3},
		Type:      2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 64, decodeBody[FillResponse](t, rec).Changed)

	rec = ts.do(t, http.MethodGet, blockPath(s.ID, 3, 3, 3)+"?kind=type", nil)
	assert.Equal(t, uint16(2), *decodeBody[BlockResponse](t, rec).Type)

	rec = ts.do(t, http.MethodPost, base+"/flush", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[SessionResponse](t, rec).Queued)

	rec = ts.do(t, http.MethodPost, base+"/fill", FillRequest{
		Operation: "fill",
		From:      model.Position{X: -1000, Y: 0, Z: -1000},
		To:        model.Position{X: 1000, Y: 255, Z: 1000},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/fill", FillRequest{Operation: "fill", To: model.Position{Y: 256}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/fill", FillRequest{
		Operation: "fill",
		From:      model.Position{X: -1 << 62},
		To:        model.Position{X: 1 << 62},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFillVolumeDoesNotWrap(t *testing.T) {
	for _, tc := range []struct {
		name string
		a, b model.Position
		want uint64
		ok   bool
	}{
		{"unit", model.Position{}, model.Position{}, 1, true},
		{"reversed", model.Position{X: 3, Y: 1, Z: 3}, model.Position{}, 32, true},
		{"at cap", model.Position{}, model.Position{X: 1023, Y: 255}, maxFillVolume, true},
		{"over cap", model.Position{}, model.Position{X: 1024, Y: 255}, 0, false},
		{"product wraps to zero", model.Position{}, model.Position{X: 1<<21 - 1, Y: 255, Z: 1<<35 - 1}, 0, false},
		{"span wraps negative", model.Position{X: -1 << 62}, model.Position{X: 1 << 62}, 0, false},
		{"full int range", model.Position{X: math.MinInt}, model.Position{X: math.MaxInt}, 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := fillVolume(tc.a, tc.b)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, v)
		})
	}
}

func TestPreferenceEndpoints(t *testing.T) {
	ts := newTestServer(t, Options{})
	actor := uuid.New()
	path := "/actors/" + actor.String() + "/preference"

	rec := ts.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeBody[PreferenceResponse](t, rec).Async)

	rec = ts.do(t, http.MethodPut, path, `{"async":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	async, ok := ts.prefs.Preference(actor)
	assert.True(t, ok)
	assert.False(t, async)

	s := ts.open(t, actor)
	rec = ts.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/checks/fill", nil)
	assert.False(t, decodeBody[CheckResponse](t, rec).Async)

	rec = ts.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok = ts.prefs.Preference(actor)
	assert.False(t, ok)
}

func TestChangesEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodGet, "/actors/"+uuid.New().String()+"/changes", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	recorder, err := audit.OpenSQLite(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = recorder.Close() })

	ts = newTestServer(t, Options{Changes: recorder})
	actor := uuid.New()
	s := ts.open(t, actor)
	for x := 0; x < 3; x++ {
		rec := ts.do(t, http.MethodPut, blockPath(s.ID, x, 1, 0), `{"type":1,"job":5}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/actors/"+actor.String()+"/changes?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	changes := decodeBody[[]ChangeRecord](t, rec)
	require.Len(t, changes, 2)
	assert.Equal(t, 2, changes[0].Position.X)
	assert.Equal(t, 5, changes[0].Job)
	assert.True(t, changes[0].Applied)

	rec = ts.do(t, http.MethodGet, "/actors/"+actor.String()+"/changes?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.do(t, http.MethodGet, "/health", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "asyncedit_http_requests_total"))
}
