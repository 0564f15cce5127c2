// trace.go implements the trace callback (C7): an httptrace.ClientTrace
// that times the first response byte and accounts request/response header
// bytes, mirroring curl-loader's libcurl write-callback-driven stat_point
// timestamping in statistics.c. Classification happens exactly once per
// transfer in classify, the same exactly-once guarantee client.h's
// hdrs_req/hdrs_2xx/hdrs_3xx/hdrs_5xx first-header flags give the original.
package transfer

import (
	"context"
	"net/http/httptrace"
	"time"
)

// trace accumulates the per-request timing and header-byte events httptrace
// reports.
type trace struct {
	firstByteTime  time.Time
	reqHeaderBytes uint64

	classified      bool
	statusClass     int
	is401407        bool
	respHeaderBytes uint64
}

// newTrace returns a ClientTrace wired to record header bytes and
// first-response-byte time into the returned trace.
func newTrace() (*httptrace.ClientTrace, *trace) {
	t := &trace{}
	ct := &httptrace.ClientTrace{
		WroteHeaderField: func(key string, values []string) {
			for _, v := range values {
				t.reqHeaderBytes += uint64(len(key) + len(v) + 4) // ": " + "\r\n"
			}
		},
		GotFirstResponseByte: func() {
			if t.firstByteTime.IsZero() {
				t.firstByteTime = time.Now()
			}
		},
	}
	return ct, t
}

// classify records the final status code and response header byte count
// exactly once per transfer - a redirect chain only reaches here on its
// last leg, so 2xx/3xx/4xx/5xx are never double counted for one Result -
// and returns the measured application delay (time to first response byte,
// or time to call if no byte was ever seen).
func (t *trace) classify(start time.Time, statusCode int, respHeaderBytes uint64) time.Duration {
	if !t.classified {
		t.statusClass = statusCode / 100
		t.is401407 = statusCode == 401 || statusCode == 407
		t.respHeaderBytes = respHeaderBytes
		t.classified = true
	}
	if t.firstByteTime.IsZero() {
		return time.Since(start)
	}
	return t.firstByteTime.Sub(start)
}

func withClientTrace(ctx context.Context, ct *httptrace.ClientTrace) context.Context {
	return httptrace.WithClientTrace(ctx, ct)
}
