package window

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsentinel/pkg/models"
)

func webEvent(ts time.Time, clientIP, path string, status int) *models.Event {
	e := models.NewEvent(models.SourceWebAccess, fmt.Sprintf("%s %s %d", clientIP, path, status))
	e.Timestamp = &ts
	e.ClientIP = models.String(clientIP)
	e.Path = models.String(path)
	e.Status = models.Int(status)
	return e
}

func fwEvent(ts time.Time, srcIP string, dstPort int, verdict string) *models.Event {
	e := models.NewEvent(models.SourceFirewall, fmt.Sprintf("%s %d %s", srcIP, dstPort, verdict))
	e.Timestamp = &ts
	e.SrcIP = models.String(srcIP)
	e.DstPort = models.Int(dstPort)
	e.Verdict = models.String(verdict)
	return e
}

func TestAddAssignsEventsToWindows(t *testing.T) {
	w := New(Config{Size: time.Minute})
	base := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)

	w.Add(webEvent(base.Add(5*time.Second), "1.1.1.1", "/a", 200))
	w.Add(webEvent(base.Add(59*time.Second), "1.1.1.1", "/b", 200))
	w.Add(webEvent(base.Add(61*time.Second), "2.2.2.2", "/c", 404))

	windows := w.Flush()
	require.Len(t, windows, 2)
	assert.Len(t, windows[0].Events, 2)
	assert.Len(t, windows[1].Events, 1)
	assert.True(t, windows[0].Start.Equal(base))
	assert.True(t, windows[0].End.Equal(base.Add(time.Minute)))
	assert.True(t, windows[1].Start.Equal(base.Add(time.Minute)))
}

func TestSealReadyRespectsWatermarkAndGrace(t *testing.T) {
	w := New(Config{Size: time.Minute, Grace: 10 * time.Second})
	base := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)

	w.Add(webEvent(base.Add(5*time.Second), "1.1.1.1", "/a", 200))

	// Watermark at exactly end+grace does not seal yet.
	w.Add(webEvent(base.Add(70*time.Second), "2.2.2.2", "/b", 200))
	assert.Empty(t, w.SealReady())

	// One tick past end+grace seals the first window only.
	w.Add(webEvent(base.Add(71*time.Second), "3.3.3.3", "/c", 200))
	sealed := w.SealReady()
	require.Len(t, sealed, 1)
	assert.True(t, sealed[0].Start.Equal(base))

	// The later window stays open until its own horizon passes.
	assert.Empty(t, w.SealReady())
}

func TestLateEventsDroppedWithCount(t *testing.T) {
	w := New(Config{Size: time.Minute})
	base := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)

	w.Add(webEvent(base.Add(5*time.Second), "1.1.1.1", "/a", 200))
	sealed := w.Flush()
	require.Len(t, sealed, 1)

	// Same window id after sealing: dropped, never reopened.
	ok := w.Add(webEvent(base.Add(30*time.Second), "1.1.1.1", "/late", 200))
	assert.False(t, ok)
	assert.Equal(t, int64(1), w.LateDropped())
	assert.Empty(t, w.Flush())
}

func TestEventsWithoutTimestampAreIgnored(t *testing.T) {
	w := New(Config{Size: time.Minute})
	e := models.ParseFailure(models.SourceWebAccess, "garbage", "no match")
	assert.True(t, w.Add(e))
	assert.Empty(t, w.Flush())
	assert.Equal(t, int64(0), w.LateDropped())
}

func TestEvidenceCountsAndTopK(t *testing.T) {
	w := New(Config{Size: time.Minute, TopK: 2, MaxExamples: 3})
	base := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		w.Add(webEvent(base.Add(time.Duration(i)*time.Second), "9.9.9.9", "/login", 401))
	}
	w.Add(webEvent(base.Add(10*time.Second), "8.8.8.8", "/", 200))
	w.Add(fwEvent(base.Add(20*time.Second), "9.9.9.9", 22, "BLOCK"))
	w.Add(fwEvent(base.Add(21*time.Second), "7.7.7.7", 22, "BLOCK"))

	windows := w.Flush()
	require.Len(t, windows, 1)
	ev := windows[0].Evidence

	assert.Equal(t, 6, ev.Total)
	assert.Equal(t, 4, ev.WebAccess)
	assert.Equal(t, 2, ev.Firewall)
	assert.Equal(t, 3, ev.StatusCounts[401])
	assert.Equal(t, 1, ev.StatusCounts[200])
	assert.Equal(t, 2, ev.VerdictCounts["BLOCK"])

	require.Len(t, ev.TopClientIPs, 2)
	assert.Equal(t, models.CountItem{Value: "9.9.9.9", Count: 3}, ev.TopClientIPs[0])
	require.NotEmpty(t, ev.TopDstPorts)
	assert.Equal(t, models.CountItem{Value: "22", Count: 2}, ev.TopDstPorts[0])

	assert.Equal(t, 2, ev.DistinctClientIPs)
	assert.Equal(t, 2, ev.DistinctSrcIPs)
	assert.Len(t, ev.SampleLines, 3)
}

func TestEvidenceDeterministicTieBreak(t *testing.T) {
	base := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)

	// Equal counts must order lexically, run after run.
	for run := 0; run < 5; run++ {
		w := New(Config{Size: time.Minute, TopK: 3})
		w.Add(webEvent(base, "2.2.2.2", "/b", 200))
		w.Add(webEvent(base.Add(time.Second), "1.1.1.1", "/a", 200))
		w.Add(webEvent(base.Add(2*time.Second), "3.3.3.3", "/c", 200))

		windows := w.Flush()
		require.Len(t, windows, 1)
		top := windows[0].Evidence.TopClientIPs
		require.Len(t, top, 3)
		assert.Equal(t, "1.1.1.1", top[0].Value)
		assert.Equal(t, "2.2.2.2", top[1].Value)
		assert.Equal(t, "3.3.3.3", top[2].Value)
	}
}

func TestEvidenceToleratesSparseFields(t *testing.T) {
	w := New(Config{Size: time.Minute})
	base := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)

	full := webEvent(base, "1.1.1.1", "/a", 200)
	sparse := models.NewEvent(models.SourceApplication, "level=INFO")
	sparse.Timestamp = &base
	w.Add(full)
	w.Add(sparse)

	windows := w.Flush()
	require.Len(t, windows, 1)
	ev := windows[0].Evidence
	assert.Equal(t, 2, ev.Total)
	assert.Equal(t, 1, ev.Application)
	assert.Len(t, ev.TopClientIPs, 1)
	assert.Equal(t, 1, ev.DistinctClientIPs)
}

func TestWindowCompleteness(t *testing.T) {
	w := New(Config{Size: time.Minute})
	base := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)

	const n = 50
	for i := 0; i < n; i++ {
		w.Add(webEvent(base.Add(time.Duration(i*7)*time.Second), "1.1.1.1", "/a", 200))
	}

	total := 0
	for _, win := range w.Flush() {
		total += len(win.Events)
		for _, e := range win.Events {
			assert.False(t, e.Timestamp.Before(win.Start))
			assert.True(t, e.Timestamp.Before(win.End))
		}
	}
	assert.Equal(t, n, total)
}
