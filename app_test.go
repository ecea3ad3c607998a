package livemonitor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/config"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/storage/memstore"
	cceclient "github.com/Project-GHOSTLINE/live-monitor-sub001/sdk/go/cce"
)

const refYAML = `
conflicts:
  - actor_a: RUS
    actor_b: UKR
    theatre: europe
    importance: 0.9
    base_hostility: 0.8
alliances:
  - id: nato
    name: NATO
    members:
      USA: 1
      POL: 0.8
fronts:
  - id: east
    theatre: europe
    name: Eastern front
    actors: [RUS, UKR]
    base_control:
      RUS: 0.3
      UKR: 0.7
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeRefData(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reference.yaml")
	require.NoError(t, os.WriteFile(path, []byte(refYAML), 0o644))
	return path
}

func TestNew_MemoryStoreServesHealth(t *testing.T) {
	app, err := New(WithStoreDriver(config.DriverMemory), WithLogger(quietLogger()), WithVersion("test"))
	require.NoError(t, err)
	defer app.Close()

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data model.HealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Data.Status)
	assert.Equal(t, "test", resp.Data.Version)
	assert.Equal(t, config.DriverMemory, resp.Data.Store)
}

func TestOpenAPIDocumentCoversRoutes(t *testing.T) {
	app, err := New(WithStoreDriver(config.DriverMemory), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer app.Close()

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))

	var doc struct {
		Paths map[string]map[string]any `yaml:"paths"`
	}
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &doc))
	for path, method := range map[string]string{
		"/v1/world":     "get",
		"/v1/conflicts": "get",
		"/v1/theatres":  "get",
		"/v1/fronts":    "get",
		"/v1/alliances": "get",
		"/v1/relations": "get",
		"/v1/cycle":     "post",
		"/v1/subscribe": "get",
		"/health":       "get",
	} {
		require.Contains(t, doc.Paths, path)
		assert.Contains(t, doc.Paths[path], method, path)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(WithStoreDriver("mongo"), WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
}

func TestNew_MissingReferenceData(t *testing.T) {
	_, err := New(
		WithStoreDriver(config.DriverMemory),
		WithReferenceDataPath(filepath.Join(t.TempDir(), "missing.yaml")),
		WithLogger(quietLogger()),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference data")
}

func TestRunOnce_PublishesAndCallsHooks(t *testing.T) {
	store := memstore.New()
	store.AddSignal(model.RawSignal{
		ID: "s1", ActorA: "RUS", ActorB: "UKR", Actor: "RUS", Theatre: "europe",
		Title: "Shelling reported", Severity: 0.8, Confidence: 0.9, OccurredAt: time.Now().Add(-time.Hour),
	})

	var hooked []*cce.TickResult
	app, err := New(
		WithStoreDriver(config.DriverMemory),
		WithStore(store),
		WithReferenceDataPath(writeRefData(t)),
		WithLogger(quietLogger()),
		WithTickHook(func(r *cce.TickResult) { hooked = append(hooked, r) }),
	)
	require.NoError(t, err)
	defer app.Close()

	events := app.broker.Subscribe()
	defer app.broker.Unsubscribe(events)

	res, err := app.RunOnce(context.Background(), cce.RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Phases[cce.PhaseIngest].Created)
	require.Len(t, hooked, 1)
	assert.Same(t, res, hooked[0])

	select {
	case ev := <-events:
		assert.Contains(t, string(ev), "event: tick")
		assert.Contains(t, string(ev), res.TickID.String())
	case <-time.After(time.Second):
		t.Fatal("no tick event published")
	}

	fronts, err := store.ListFrontLines(context.Background())
	require.NoError(t, err)
	require.Len(t, fronts, 1)
	assert.Equal(t, "east", fronts[0].FrontID)
}

func TestClientAgainstServer(t *testing.T) {
	store := memstore.New()
	store.AddSignal(model.RawSignal{
		ID: "s1", ActorA: "UKR", ActorB: "RUS", Actor: "RUS", Theatre: "europe",
		Title: "Artillery exchange", Severity: 0.9, Confidence: 0.9, OccurredAt: time.Now().Add(-2 * time.Hour),
		EvidenceURLs: []string{"https://example.org/a"},
	})
	app, err := New(
		WithStoreDriver(config.DriverMemory),
		WithStore(store),
		WithReferenceDataPath(writeRefData(t)),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	defer app.Close()

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()
	client, err := cceclient.NewClient(cceclient.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.World(ctx)
	require.Error(t, err)
	assert.True(t, cceclient.IsNotFound(err), "world before the first cycle: %v", err)
	_, err = client.LastCycle(ctx)
	assert.True(t, cceclient.IsNotFound(err))

	res, err := client.RunCycle(ctx, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Phases, "ingest")

	last, err := client.LastCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.TickID, last.TickID)

	world, err := client.World(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, world.ConflictCount)

	page, err := client.ListConflicts(ctx, &cceclient.ConflictOptions{Theatre: "europe"})
	require.NoError(t, err)
	require.Len(t, page.Conflicts, 1)
	assert.Equal(t, "RUS", page.Conflicts[0].ActorA)
	assert.Equal(t, "UKR", page.Conflicts[0].ActorB)
	assert.Greater(t, page.Conflicts[0].State.Tension, 0.0)

	edges, err := client.Relations(ctx, "rus", nil)
	require.NoError(t, err)
	require.NotEmpty(t, edges)
	assert.Equal(t, cceclient.RelationHostile, edges[0].RelationType)

	fronts, err := client.Fronts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, fronts, 1)
	assert.Equal(t, "east", fronts[0].FrontID)

	alliances, err := client.Alliances(ctx)
	require.NoError(t, err)
	require.Len(t, alliances, 1)
	assert.Equal(t, "nato", alliances[0].AllianceID)

	_, err = client.ListConflicts(ctx, &cceclient.ConflictOptions{Sort: "alphabetical"})
	assert.True(t, cceclient.IsInvalidInput(err))

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.NotNil(t, health.LastTickAt)
}

func TestMigrate_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cce.db")
	err := Migrate(context.Background(),
		WithStoreDriver(config.DriverSQLite),
		WithSQLitePath(path),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestRun_StopsOnCancel(t *testing.T) {
	port := freePort(t)
	app, err := New(WithStoreDriver(config.DriverMemory), WithPort(port), WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:gosec // test-local URL
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	// The startup tick has run by the time health reports it.
	require.Eventually(t, func() bool { return app.engine.LastTick() != nil }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
