// Package stats implements the statistics aggregator (C4): per-batch
// delta/total counters tracked separately for HTTP and HTTPS, grounded on
// curl-loader's statistics.h stat_point and statistics.c's merge formula
// for the running-mean application-delay fields.
package stats

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	fstats "fortio.org/fortio/stats"
)

// Point mirrors stat_point: byte/request counters plus incremental,
// weighted-mean application delay, tracked both overall and for 2xx
// responses only. Status classes are split the way statistics.c's
// op_stat_update bucket does: 1xx/2xx/3xx/4xx/5xx by status/100, plus a
// transport-level (no status at all) OtherErrs bucket.
type Point struct {
	DataIn, DataOut uint64
	Requests        uint64
	RespInfos       uint64 // 1xx
	RespOKs         uint64 // 2xx
	RespRedirs      uint64 // 3xx
	RespClientErrs  uint64 // 4xx (excluding 401/407, see Aggregator.Record)
	RespServErrs    uint64 // 5xx
	OtherErrs       uint64 // transport-level errors, no status class

	ApplDelayPoints uint64
	ApplDelay       float64

	ApplDelay2xxPoints uint64
	ApplDelay2xx       float64
}

// AddDelaySample folds one observed application delay into the running
// mean, optionally also into the 2xx-only mean. This is the incremental
// form of statistics.c's weighted-mean merge applied one sample at a time.
func (p *Point) AddDelaySample(delaySeconds float64, is2xx bool) {
	p.ApplDelayPoints++
	p.ApplDelay += (delaySeconds - p.ApplDelay) / float64(p.ApplDelayPoints)
	if is2xx {
		p.ApplDelay2xxPoints++
		p.ApplDelay2xx += (delaySeconds - p.ApplDelay2xx) / float64(p.ApplDelay2xxPoints)
	}
}

// Reset zeroes a point in place, mirroring stat_point_reset.
func (p *Point) Reset() { *p = Point{} }

// Errs returns the column curl-loader's statistics.c labels Err: requests
// that never reached an HTTP status at all (transport/connect failures).
func (p *Point) Errs() uint64 { return p.OtherErrs }

// Merge folds src into dst in place, mirroring stat_point_add: counters
// sum, and the two running means are recombined via the weighted-average
// formula from statistics.c:
//
//	merged = (left*leftPoints + right*rightPoints) / (leftPoints+rightPoints)
func Merge(dst, src *Point) {
	dst.DataIn += src.DataIn
	dst.DataOut += src.DataOut
	dst.Requests += src.Requests
	dst.RespInfos += src.RespInfos
	dst.RespRedirs += src.RespRedirs
	dst.RespOKs += src.RespOKs
	dst.RespClientErrs += src.RespClientErrs
	dst.RespServErrs += src.RespServErrs
	dst.OtherErrs += src.OtherErrs

	dst.ApplDelay = weightedMean(dst.ApplDelay, dst.ApplDelayPoints, src.ApplDelay, src.ApplDelayPoints)
	dst.ApplDelayPoints += src.ApplDelayPoints

	dst.ApplDelay2xx = weightedMean(dst.ApplDelay2xx, dst.ApplDelay2xxPoints, src.ApplDelay2xx, src.ApplDelay2xxPoints)
	dst.ApplDelay2xxPoints += src.ApplDelay2xxPoints
}

func weightedMean(left float64, leftN uint64, right float64, rightN uint64) float64 {
	total := leftN + rightN
	if total == 0 {
		return 0
	}
	return (left*float64(leftN) + right*float64(rightN)) / float64(total)
}

// Protocol separates HTTP and HTTPS accounting, as curl-loader does
// throughout statistics.c and the .txt output columns.
type Protocol int

const (
	HTTP Protocol = iota
	HTTPS
	numProtocols
)

func (p Protocol) String() string {
	if p == HTTPS {
		return "HTTPS"
	}
	return "HTTP"
}

// Aggregator holds delta (since-last-snapshot) and total per-protocol
// counters for one batch, plus a latency histogram per protocol that every
// Record feeds; nothing in this module prints a percentile summary from
// it. The running-mean ApplDelay fields above are what the .txt snapshot
// columns show.
type Aggregator struct {
	Delta [numProtocols]Point
	Total [numProtocols]Point
	Hist  [numProtocols]*fstats.Histogram
}

// NewAggregator returns an aggregator with histograms ready to record into.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	for i := range a.Hist {
		a.Hist[i] = fstats.NewHistogram(0, 1) // offset 0, divider 1: delays recorded in seconds
	}
	return a
}

// Record folds one completed request/response into both delta and total
// counters and the latency histogram for its protocol. class is status/100
// (1..5), or 0 for a transport-level failure with no HTTP status at all.
// class401407 reports whether the response was a 401/407 authentication
// challenge, which statistics.c's op_stat_update explicitly excludes from
// the 4xx error bucket since the client may legitimately retry it.
func (a *Aggregator) Record(proto Protocol, bytesIn, bytesOut uint64, class int, delaySeconds float64, is401407 bool) {
	a.Delta[proto].Requests++
	a.Total[proto].Requests++
	a.Delta[proto].DataIn += bytesIn
	a.Total[proto].DataIn += bytesIn
	a.Delta[proto].DataOut += bytesOut
	a.Total[proto].DataOut += bytesOut

	is2xx := class == 2
	switch {
	case class == 1:
		a.Delta[proto].RespInfos++
		a.Total[proto].RespInfos++
	case class == 2:
		a.Delta[proto].RespOKs++
		a.Total[proto].RespOKs++
	case class == 3:
		a.Delta[proto].RespRedirs++
		a.Total[proto].RespRedirs++
	case class == 4 && is401407:
		// Authentication challenge, not an error transition (spec 4.4/4.7).
	case class == 4:
		a.Delta[proto].RespClientErrs++
		a.Total[proto].RespClientErrs++
	case class == 5:
		a.Delta[proto].RespServErrs++
		a.Total[proto].RespServErrs++
	default:
		a.Delta[proto].OtherErrs++
		a.Total[proto].OtherErrs++
	}
	a.Delta[proto].AddDelaySample(delaySeconds, is2xx)
	a.Total[proto].AddDelaySample(delaySeconds, is2xx)
	a.Hist[proto].Record(delaySeconds)
}

// AdvanceDelta resets the delta counters after a snapshot has been written,
// mirroring dump_intermediate_and_advance_total_statistics's rollover.
func (a *Aggregator) AdvanceDelta() {
	for i := range a.Delta {
		a.Delta[i].Reset()
	}
}

// WriteSnapshot writes one tabwriter-formatted row per protocol to w,
// mirroring curl-loader's print_statistics_header/dump_intermediate_statistics
// column layout: Run-Time, Appl, Clients, Req, 2xx, 3xx, 4xx, 5xx, Err,
// Delay, Delay-2xx, Thr-In, Thr-Out. Throughputs are bytes/second over
// interval, the elapsed time since the previous snapshot (or run start).
func (a *Aggregator) WriteSnapshot(w io.Writer, runTime time.Duration, interval time.Duration, clients int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Run-Time\tAppl\tClients\tReq\t2xx\t3xx\t4xx\t5xx\tErr\tDelay\tDelay-2xx\tThr-In\tThr-Out\n")
	secs := interval.Seconds()
	if secs <= 0 {
		secs = 1
	}
	for i := range a.Delta {
		proto := Protocol(i)
		p := &a.Delta[i]
		thrIn := float64(p.DataIn) / secs
		thrOut := float64(p.DataOut) / secs
		fmt.Fprintf(tw, "%.3f\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.6f\t%.6f\t%.2f\t%.2f\n",
			runTime.Seconds(), proto, clients, p.Requests, p.RespOKs, p.RespRedirs, p.RespClientErrs, p.RespServErrs,
			p.Errs(), p.ApplDelay, p.ApplDelay2xx, thrIn, thrOut)
	}
	return tw.Flush()
}

// WriteFooter writes the all-asterisks separator row dividing per-interval
// snapshot rows from the final cumulative totals (spec 6.3: "a footer row
// of all-asterisks separates per-interval rows from the final cumulative
// rows").
func (a *Aggregator) WriteFooter(w io.Writer) error {
	_, err := fmt.Fprintln(w, "*************\t****\t*******\t***\t***\t***\t***\t***\t***\t*****\t*********\t******\t*******")
	return err
}

// WriteTotals writes the final cumulative Total row per protocol, in the
// same column layout as WriteSnapshot, using runTime as the whole run's
// elapsed wall time for the throughput divisor.
func (a *Aggregator) WriteTotals(w io.Writer, runTime time.Duration, clients int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Run-Time\tAppl\tClients\tReq\t2xx\t3xx\t4xx\t5xx\tErr\tDelay\tDelay-2xx\tThr-In\tThr-Out\n")
	secs := runTime.Seconds()
	if secs <= 0 {
		secs = 1
	}
	for i := range a.Total {
		proto := Protocol(i)
		p := &a.Total[i]
		thrIn := float64(p.DataIn) / secs
		thrOut := float64(p.DataOut) / secs
		fmt.Fprintf(tw, "%.3f\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.6f\t%.6f\t%.2f\t%.2f\n",
			runTime.Seconds(), proto, clients, p.Requests, p.RespOKs, p.RespRedirs, p.RespClientErrs, p.RespServErrs,
			p.Errs(), p.ApplDelay, p.ApplDelay2xx, thrIn, thrOut)
	}
	return tw.Flush()
}
