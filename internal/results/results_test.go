package results

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"fortio.org/assert"

	"fortio.org/curlloader/internal/client"
	"fortio.org/curlloader/internal/stats"
)

func TestRunInfoIDIncludesDateAndName(t *testing.T) {
	start := time.Date(2026, 7, 30, 10, 5, 3, 0, time.UTC)
	info := RunInfo{BatchName: "My Batch!!", StartTime: start}
	id := info.ID()
	assert.True(t, strings.HasPrefix(id, "2026-07-30-100503"))
	assert.True(t, strings.Contains(id, "My_Batch"))
}

func TestRunInfoIDEmptyBatchName(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	info := RunInfo{StartTime: start}
	assert.Equal(t, "2026-01-01-000000", info.ID())
}

func TestWriteHeaderIncludesRunInfo(t *testing.T) {
	var buf bytes.Buffer
	info := RunInfo{BatchName: "b", RunID: "abc", StartTime: time.Now()}
	err := WriteHeader(&buf, info)
	assert.NoError(t, err)
	out := buf.String()
	assert.True(t, strings.Contains(out, "abc"))
	assert.True(t, strings.Contains(out, "b"))
}

func TestWriteFooterAndTotalsIncludesAllProtocols(t *testing.T) {
	agg := stats.NewAggregator()
	agg.Record(stats.HTTP, 100, 50, 2, 0.01, false)
	agg.Record(stats.HTTPS, 200, 100, 2, 0.02, false)
	agg.AdvanceDelta()

	var buf bytes.Buffer
	err := WriteFooterAndTotals(&buf, agg, 10*time.Second, 5)
	assert.NoError(t, err)
	out := buf.String()
	assert.True(t, strings.Contains(out, "HTTP"))
	assert.True(t, strings.Contains(out, "HTTPS"))
	assert.True(t, strings.Contains(out, "****"))
}

func TestWriteContextDumpProducesCSVHeader(t *testing.T) {
	c, err := client.New("c0", 0, []client.URL{{Address: "http://x"}}, 0, 0, 1)
	assert.NoError(t, err)

	var buf bytes.Buffer
	err = WriteContextDump(&buf, []*client.Client{c})
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, 2, len(lines))
	assert.True(t, strings.HasPrefix(lines[0], "index,name,state"))
}

func TestPreparePathsCreatesURLDirs(t *testing.T) {
	dir := t.TempDir()
	info := RunInfo{BatchName: "b", StartTime: time.Now()}
	out, err := PreparePaths(dir, info, 3)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(out.URLDirs))
	assert.True(t, strings.HasSuffix(out.TextFile, ".txt"))
	assert.True(t, strings.HasSuffix(out.CtxFile, ".ctx"))
}
