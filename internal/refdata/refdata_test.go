package refdata

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
conflicts:
  - actor_a: ukr
    actor_b: RUS
    theatre: europe
    importance: 0.9
    base_hostility: 0.8
alliances:
  - id: nato
    name: NATO
    members:
      usa: 1
      POL: 0.8
fronts:
  - id: east
    theatre: europe
    name: Eastern front
    actors: [rus, ukr]
    base_control:
      RUS: 0.2
      ukr: 0.8
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestParse_NormalizesActors(t *testing.T) {
	d, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.Len(t, d.Conflicts, 1)
	assert.Equal(t, "UKR", d.Conflicts[0].ActorA)
	assert.Equal(t, "RUS", d.Conflicts[0].ActorB)

	require.Len(t, d.Alliances, 1)
	assert.Equal(t, map[string]float64{"USA": 1, "POL": 0.8}, d.Alliances[0].Members)

	require.Len(t, d.Fronts, 1)
	assert.Equal(t, []string{"RUS", "UKR"}, d.Fronts[0].Actors)
	assert.Equal(t, map[string]float64{"RUS": 0.2, "UKR": 0.8}, d.Fronts[0].BaseControl)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"malformed yaml":       "alliances: [",
		"member strength > 1":  "alliances:\n  - id: a\n    name: A\n    members: {USA: 1.5}\n",
		"zero strength":        "alliances:\n  - id: a\n    name: A\n    members: {USA: 0}\n",
		"no members":           "alliances:\n  - id: a\n    name: A\n",
		"single-actor front":   "fronts:\n  - id: f\n    theatre: t\n    name: F\n    actors: [RUS]\n",
		"duplicate front":      "fronts:\n  - {id: f, theatre: t, name: F, actors: [A, B]}\n  - {id: f, theatre: t, name: G, actors: [A, C]}\n",
		"foreign base control": "fronts:\n  - id: f\n    theatre: t\n    name: F\n    actors: [A, B]\n    base_control: {C: 1}\n",
		"same-actor conflict":  "conflicts:\n  - {actor_a: usa, actor_b: USA}\n",
		"duplicate pair":       "conflicts:\n  - {actor_a: A, actor_b: B}\n  - {actor_a: b, actor_b: a}\n",
		"importance > 1":       "conflicts:\n  - {actor_a: A, actor_b: B, importance: 2}\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestSource_ServesCanonicalSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.yaml")
	writeFile(t, path, sample)

	src, err := Open(path, quietLogger())
	require.NoError(t, err)

	conflicts, err := src.Conflicts(context.Background())
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "RUS", conflicts[0].ActorA)
	assert.Equal(t, "UKR", conflicts[0].ActorB)
	assert.InDelta(t, 0.9, conflicts[0].Importance, 1e-12)

	alliances, err := src.Alliances(context.Background())
	require.NoError(t, err)
	assert.Len(t, alliances, 1)
	assert.False(t, src.LoadedAt().IsZero())
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.yaml"), quietLogger())
	assert.Error(t, err)
}

func TestReload_KeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.yaml")
	writeFile(t, path, sample)
	src, err := Open(path, quietLogger())
	require.NoError(t, err)

	writeFile(t, path, "alliances: [")
	assert.Error(t, src.Reload())

	fronts, err := src.Fronts(context.Background())
	require.NoError(t, err)
	assert.Len(t, fronts, 1)
}

func TestStatic(t *testing.T) {
	src := Static(Data{})
	fronts, err := src.Fronts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fronts)
	assert.Error(t, src.Reload())
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.yaml")
	writeFile(t, path, sample)
	src, err := Open(path, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx) }()

	// Let the watcher register before editing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, sample+"  - id: west\n    theatre: europe\n    name: Western front\n    actors: [POL, BLR]\n")

	assert.Eventually(t, func() bool {
		fronts, _ := src.Fronts(context.Background())
		return len(fronts) == 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
