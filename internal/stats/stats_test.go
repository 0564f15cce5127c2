package stats

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"fortio.org/assert"
)

func TestMergeWeightedMean(t *testing.T) {
	a := Point{ApplDelay: 1.0, ApplDelayPoints: 1}
	b := Point{ApplDelay: 3.0, ApplDelayPoints: 1}
	Merge(&a, &b)
	assert.Equal(t, uint64(2), a.ApplDelayPoints)
	assert.Equal(t, 2.0, a.ApplDelay)
}

func TestMergeSumsCounters(t *testing.T) {
	a := Point{Requests: 10, RespOKs: 8, DataIn: 100}
	b := Point{Requests: 5, RespOKs: 5, DataIn: 50}
	Merge(&a, &b)
	assert.Equal(t, uint64(15), a.Requests)
	assert.Equal(t, uint64(13), a.RespOKs)
	assert.Equal(t, uint64(150), a.DataIn)
}

func TestAddDelaySampleIncremental(t *testing.T) {
	var p Point
	p.AddDelaySample(1.0, true)
	p.AddDelaySample(3.0, true)
	assert.Equal(t, 2.0, p.ApplDelay)
	assert.Equal(t, 2.0, p.ApplDelay2xx)
	assert.Equal(t, uint64(2), p.ApplDelayPoints)
	assert.Equal(t, uint64(2), p.ApplDelay2xxPoints)
}

func TestAggregatorRecordAndAdvance(t *testing.T) {
	a := NewAggregator()
	a.Record(HTTP, 100, 50, 2, 0.02, false)
	a.Record(HTTP, 200, 50, 5, 0.05, false)
	a.Record(HTTPS, 100, 50, 2, 0.01, false)

	assert.Equal(t, uint64(2), a.Delta[HTTP].Requests)
	assert.Equal(t, uint64(1), a.Delta[HTTP].RespOKs)
	assert.Equal(t, uint64(1), a.Delta[HTTP].RespServErrs)
	assert.Equal(t, uint64(1), a.Total[HTTPS].Requests)

	a.AdvanceDelta()
	assert.Equal(t, uint64(0), a.Delta[HTTP].Requests)
	assert.Equal(t, uint64(2), a.Total[HTTP].Requests)

	var buf bytes.Buffer
	assert.NoError(t, a.WriteSnapshot(&buf, 10*time.Second, 2*time.Second, 3))
	assert.True(t, buf.Len() > 0)
}

func TestAggregatorRecord401407NotCountedAsClientErr(t *testing.T) {
	a := NewAggregator()
	a.Record(HTTP, 100, 50, 4, 0.02, true)
	assert.Equal(t, uint64(0), a.Delta[HTTP].RespClientErrs)
	assert.Equal(t, uint64(1), a.Delta[HTTP].Requests)

	a.Record(HTTP, 100, 50, 4, 0.02, false)
	assert.Equal(t, uint64(1), a.Delta[HTTP].RespClientErrs)
}

func TestWriteFooterIsAllAsterisks(t *testing.T) {
	a := NewAggregator()
	var buf bytes.Buffer
	assert.NoError(t, a.WriteFooter(&buf))
	assert.True(t, bytes.Contains(buf.Bytes(), []byte("****")))
}

func TestWriteTotalsIncludesBothProtocols(t *testing.T) {
	a := NewAggregator()
	a.Record(HTTP, 100, 50, 2, 0.02, false)
	a.Record(HTTPS, 100, 50, 4, 0.02, false)
	var buf bytes.Buffer
	assert.NoError(t, a.WriteTotals(&buf, 5*time.Second, 2))
	out := buf.String()
	assert.True(t, strings.Contains(out, "HTTP"))
	assert.True(t, strings.Contains(out, "HTTPS"))
}
