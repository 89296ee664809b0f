package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsentinel/internal/classify"
	"logsentinel/internal/incident"
	"logsentinel/internal/reader"
	"logsentinel/internal/state"
	"logsentinel/internal/submit"
	"logsentinel/internal/window"
	"logsentinel/pkg/models"
)

// blockClassifier flags windows with firewall BLOCK verdicts as
// bruteforce and everything else as healthy.
func blockClassifier() classify.Classifier {
	return classify.Func(func(ctx context.Context, w *models.Window) (*models.ClassificationResult, error) {
		if w.Evidence != nil && w.Evidence.VerdictCounts["BLOCK"] > 0 {
			return &models.ClassificationResult{Label: "bruteforce", Probability: 0.9}, nil
		}
		return &models.ClassificationResult{Label: models.LabelHealthy, Probability: 0.95}, nil
	})
}

type fakeBackend struct {
	srv     *httptest.Server
	creates atomic.Int32
	patches atomic.Int32
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			n := b.creates.Add(1)
			json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("inc-%d", n)})
		case http.MethodPatch:
			b.patches.Add(1)
			json.NewEncoder(w).Encode(map[string]string{"id": "patched"})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func writeLogs(t *testing.T, dir string) {
	t.Helper()
	web := `203.0.113.9 - - [07/Jan/2026:09:00:05 +0000] "GET /login HTTP/1.1" 401 512 "-" "curl/8.0"
203.0.113.9 - - [07/Jan/2026:09:00:20 +0000] "GET /login HTTP/1.1" 401 512 "-" "curl/8.0"
`
	app := `2026-01-07T09:00:10Z level=WARN ip=203.0.113.9 method=POST path=/api/login status=401 msg="invalid credentials"
`
	fw := `Jan  7 09:00:15 web-1 kernel: [UFW BLOCK] IN=eth0 SRC=198.51.100.9 DST=10.0.0.7 PROTO=TCP SPT=54321 DPT=22
Jan  7 09:00:40 web-1 kernel: [UFW BLOCK] IN=eth0 SRC=198.51.100.9 DST=10.0.0.7 PROTO=TCP SPT=54322 DPT=22
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nginx_access.log"), []byte(web), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api_app.log"), []byte(app), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fw_ufw.log"), []byte(fw), 0o644))
}

func buildTestPipeline(t *testing.T, logDir, stateDir string, backendURL string) *Pipeline {
	t.Helper()
	store, err := state.NewFileStore(stateDir)
	require.NoError(t, err)

	offsets, err := store.LoadOffsets()
	require.NoError(t, err)
	seed, err := store.LoadIncidents()
	require.NoError(t, err)

	readers := []*reader.Reader{
		reader.New(models.SourceWebAccess, filepath.Join(logDir, "nginx_access.log"), 0, offsets["web-access"]),
		reader.New(models.SourceApplication, filepath.Join(logDir, "api_app.log"), 0, offsets["application"]),
		reader.New(models.SourceFirewall, filepath.Join(logDir, "fw_ufw.log"), 0, offsets["firewall"]),
	}

	submitter, err := submit.NewClient(submit.Config{BaseURL: backendURL, RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	now := func() time.Time { return time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC) }
	return New(Options{
		Readers:      readers,
		Windower:     window.New(window.Config{Size: time.Minute, MaxExamples: 5, TopK: 5}),
		Gateway:      classify.NewGateway(blockClassifier(), 0, time.Millisecond),
		Engine:       incident.NewEngine(incident.Config{WindowSize: time.Minute}, nil, seed),
		Submitter:    submitter,
		Store:        store,
		PollInterval: time.Millisecond,
		Now:          now,
	})
}

func TestRunOnceEndToEnd(t *testing.T) {
	logDir := t.TempDir()
	stateDir := t.TempDir()
	writeLogs(t, logDir)
	backend := newFakeBackend(t)

	pipe := buildTestPipeline(t, logDir, stateDir, backend.srv.URL)
	summary, err := pipe.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.LinesRead)
	assert.Equal(t, 0, summary.ParseErrors)
	assert.False(t, summary.Failed(), "summary: %s", summary)

	// All five events land in the 09:00 window; the BLOCK verdicts make
	// it one bruteforce incident.
	assert.Equal(t, 1, summary.WindowsSealed)
	assert.Equal(t, 1, summary.IncidentsCreated)
	assert.Equal(t, int32(1), backend.creates.Load())

	// State is committed after the pass.
	store, err := state.NewFileStore(stateDir)
	require.NoError(t, err)
	offsets, err := store.LoadOffsets()
	require.NoError(t, err)
	assert.Len(t, offsets, 3)
	incidents, err := store.LoadIncidents()
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	for _, inc := range incidents {
		assert.Equal(t, "bruteforce", inc.AttackType)
		assert.Equal(t, 90, inc.Severity)
		assert.Equal(t, "198.51.100.9", inc.SourceIP)
		assert.Equal(t, "10.0.0.7", inc.DestIP)
		assert.Equal(t, "inc-1", inc.ID)
	}
}

func TestRunOnceRerunWithoutNewDataIsQuiet(t *testing.T) {
	logDir := t.TempDir()
	stateDir := t.TempDir()
	writeLogs(t, logDir)
	backend := newFakeBackend(t)

	pipe := buildTestPipeline(t, logDir, stateDir, backend.srv.URL)
	_, err := pipe.RunOnce(context.Background())
	require.NoError(t, err)

	// Restarting from persisted state with no new lines must not read,
	// classify or submit anything again.
	pipe2 := buildTestPipeline(t, logDir, stateDir, backend.srv.URL)
	summary, err := pipe2.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.LinesRead)
	assert.Equal(t, 0, summary.WindowsSealed)
	assert.Equal(t, 0, summary.IncidentsCreated)
	assert.Equal(t, int32(1), backend.creates.Load())
	assert.Equal(t, int32(0), backend.patches.Load())
}

func TestRunOnceAppendedDataMergesIncident(t *testing.T) {
	logDir := t.TempDir()
	stateDir := t.TempDir()
	writeLogs(t, logDir)
	backend := newFakeBackend(t)

	pipe := buildTestPipeline(t, logDir, stateDir, backend.srv.URL)
	_, err := pipe.RunOnce(context.Background())
	require.NoError(t, err)

	// The attack continues in the next window.
	f, err := os.OpenFile(filepath.Join(logDir, "fw_ufw.log"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("Jan  7 09:01:30 web-1 kernel: [UFW BLOCK] IN=eth0 SRC=198.51.100.9 DST=10.0.0.7 PROTO=TCP SPT=54323 DPT=22\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	pipe2 := buildTestPipeline(t, logDir, stateDir, backend.srv.URL)
	summary, err := pipe2.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.LinesRead)
	assert.Equal(t, 1, summary.WindowsSealed)
	assert.Equal(t, 0, summary.IncidentsCreated)
	assert.Equal(t, 1, summary.IncidentsMerged)

	// The merge PATCHes the record created in the first run.
	assert.Equal(t, int32(1), backend.creates.Load())
	assert.Equal(t, int32(1), backend.patches.Load())
}

func TestRunOnceHealthyWindowsRaiseNoIncidents(t *testing.T) {
	logDir := t.TempDir()
	stateDir := t.TempDir()
	web := `203.0.113.9 - - [07/Jan/2026:09:00:05 +0000] "GET / HTTP/1.1" 200 512 "-" "Mozilla/5.0"
`
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "nginx_access.log"), []byte(web), 0o644))
	backend := newFakeBackend(t)

	pipe := buildTestPipeline(t, logDir, stateDir, backend.srv.URL)
	summary, err := pipe.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.LinesRead)
	assert.Equal(t, 1, summary.WindowsSealed)
	assert.Equal(t, 0, summary.IncidentsCreated)
	assert.Equal(t, int32(0), backend.creates.Load())
}

func TestRunOnceSourceErrorDoesNotFailOthers(t *testing.T) {
	logDir := t.TempDir()
	stateDir := t.TempDir()
	// Only the web log exists; missing files read as empty, and an
	// unreadable directory in a file's place is a source error.
	web := `203.0.113.9 - - [07/Jan/2026:09:00:05 +0000] "GET / HTTP/1.1" 200 512 "-" "Mozilla/5.0"
`
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "nginx_access.log"), []byte(web), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(logDir, "fw_ufw.log"), 0o755))
	backend := newFakeBackend(t)

	pipe := buildTestPipeline(t, logDir, stateDir, backend.srv.URL)
	summary, err := pipe.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.LinesRead)
	assert.Equal(t, 1, summary.SourceErrors)
	assert.True(t, summary.Failed())
}

func TestRunOnceParseFailuresAreCountedNotFatal(t *testing.T) {
	logDir := t.TempDir()
	stateDir := t.TempDir()
	web := `203.0.113.9 - - [07/Jan/2026:09:00:05 +0000] "GET / HTTP/1.1" 200 512 "-" "Mozilla/5.0"
this line is garbage
`
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "nginx_access.log"), []byte(web), 0o644))
	backend := newFakeBackend(t)

	pipe := buildTestPipeline(t, logDir, stateDir, backend.srv.URL)
	summary, err := pipe.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.LinesRead)
	assert.Equal(t, 1, summary.ParseErrors)
	assert.True(t, summary.Failed())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	logDir := t.TempDir()
	stateDir := t.TempDir()
	writeLogs(t, logDir)
	backend := newFakeBackend(t)

	pipe := buildTestPipeline(t, logDir, stateDir, backend.srv.URL)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- pipe.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
