// Package engine implements the Loading Loop (C8): a single-threaded
// cooperative event loop driving a batch's clients through the transfer
// engine and timer queue, grounded on curl-loader's loader_fsm.c
// (init_timers_and_add_initial_clients_to_load, add_loading_clients,
// dispatch_expired_timers, client_add_to_load/client_remove_from_load,
// handle_*_timer callbacks).
package engine

import (
	"context"
	"io"
	"time"

	"fortio.org/log"

	"fortio.org/curlloader/internal/batch"
	"fortio.org/curlloader/internal/client"
	"fortio.org/curlloader/internal/results"
	"fortio.org/curlloader/internal/runctl"
	"fortio.org/curlloader/internal/stats"
	"fortio.org/curlloader/internal/timerq"
	"fortio.org/curlloader/internal/transfer"
	"fortio.org/curlloader/metrics"
)

// maxWait mirrors the 250ms poll-loop upper bound the Loading Loop never
// exceeds even with no timer due sooner, so ramp-up/rewind/input-poll
// timers never starve.
const maxWait = 250 * time.Millisecond

// snapshotInterval is how often the Loading Loop flushes a delta stats row
// to the `.txt` file and rolls the aggregator's delta window forward,
// mirroring spec §4.4/§6.3's 2-second interval reporting cadence.
const snapshotInterval = 2 * time.Second

// logRewindPeriod and screenInputPeriod are the two always-on housekeeping
// timers init_timers_and_add_initial_clients_to_load installs before the
// first client is ever scheduled.
const (
	logRewindPeriod    = 60 * time.Second
	screenInputPeriod  = time.Second
	screenInputInitial = 3 * time.Second
	rampUpPeriod       = time.Second
)

type rampUpTimerCtx struct{}
type logRewindTimerCtx struct{}
type screenInputTimerCtx struct{}

// Loop drives one batch's clients to completion.
type Loop struct {
	batch *batch.Batch
	multi *transfer.Multi
	tq    *timerq.Queue

	activeClients          int
	clientsCurrentSchedNum int
	rampUpActive           bool

	logRewindCount int

	snapshotWriter io.Writer
	runStart       time.Time
	lastSnapshot   time.Time

	Aborter *runctl.Aborter
}

// NewLoop wires a batch, a transfer dispatcher and the `.txt` statistics
// writer (nil to disable periodic snapshots, e.g. in tests) into a Loop
// ready to Run. Callers write the file's banner via results.WriteHeader
// before calling Run; Run appends interval rows and the closing
// footer/totals itself as it goes, mirroring print_statistics_data's
// stream-of-rows design instead of one end-of-run dump.
func NewLoop(b *batch.Batch, m *transfer.Multi, snapshotWriter io.Writer) *Loop {
	return &Loop{
		batch:          b,
		multi:          m,
		tq:             timerq.New(),
		snapshotWriter: snapshotWriter,
		Aborter:        runctl.NewAborter(),
	}
}

// Run executes the loop until ctx is cancelled or every client reaches
// FINISHED_OK/ERROR and ramp-up has no more clients to add, mirroring
// loader_fsm.c's top-level dispatch loop around dispatch_expired_timers.
func (l *Loop) Run(ctx context.Context) error {
	now := time.Now()
	l.Aborter.RecordStart()
	l.runStart = now
	l.lastSnapshot = now
	l.installHousekeepingTimers(now)
	l.multi.Start(ctx)

	if l.batch.AddrPlan != nil {
		for i := 0; i < l.batch.Config.ClientNumMax; i++ {
			if err := l.batch.AddrPlan.Install(l.batch.Config.Interface, i); err != nil {
				log.Errf("engine: installing source address for client %d failed: %v", i, err)
			}
		}
	}

	for i := 0; i < l.batch.Config.ClientNumStart && i < len(l.batch.Clients); i++ {
		l.dispatchAdvance(l.batch.Clients[i], now)
	}
	l.clientsCurrentSchedNum = l.batch.Config.ClientNumStart
	if l.batch.Config.ClientNumMax > l.batch.Config.ClientNumStart {
		l.rampUpActive = true
	}

	for {
		if l.allDone() || l.Aborter.Aborted() {
			l.writeFinal(time.Now())
			return nil
		}
		wait := l.waitBound(time.Now())
		select {
		case <-ctx.Done():
			l.writeFinal(time.Now())
			return ctx.Err()
		case <-l.Aborter.StopChan:
			l.writeFinal(time.Now())
			return nil
		case res := <-l.multi.Results():
			l.handleResult(res)
		case <-time.After(wait):
			l.tq.DispatchDue(time.Now())
		}
		l.maybeSnapshot(time.Now())
	}
}

// maybeSnapshot flushes a delta stats row every snapshotInterval, mirroring
// print_statistics_data's periodic call during the load.
func (l *Loop) maybeSnapshot(now time.Time) {
	if l.snapshotWriter == nil || now.Sub(l.lastSnapshot) < snapshotInterval {
		return
	}
	interval := now.Sub(l.lastSnapshot)
	if err := l.batch.Stats.WriteSnapshot(l.snapshotWriter, now.Sub(l.runStart), interval, len(l.batch.Clients)); err != nil {
		log.Errf("engine: writing stats snapshot failed: %v", err)
	}
	l.batch.Stats.AdvanceDelta()
	l.lastSnapshot = now
}

// writeFinal flushes any partial interval then appends the closing
// all-asterisks separator and cumulative totals row, mirroring
// print_statistics_data's end-of-run summary call.
func (l *Loop) writeFinal(now time.Time) {
	if l.snapshotWriter == nil {
		return
	}
	if interval := now.Sub(l.lastSnapshot); interval > 0 {
		if err := l.batch.Stats.WriteSnapshot(l.snapshotWriter, now.Sub(l.runStart), interval, len(l.batch.Clients)); err != nil {
			log.Errf("engine: writing final stats snapshot failed: %v", err)
		}
		l.batch.Stats.AdvanceDelta()
	}
	if err := results.WriteFooterAndTotals(l.snapshotWriter, l.batch.Stats, now.Sub(l.runStart), len(l.batch.Clients)); err != nil {
		log.Errf("engine: writing stats totals failed: %v", err)
	}
}

func (l *Loop) waitBound(now time.Time) time.Duration {
	due, ok := l.tq.NextDue()
	if !ok {
		return maxWait
	}
	w := due.Sub(now)
	if w <= 0 {
		return 0
	}
	if w > maxWait {
		return maxWait
	}
	return w
}

func (l *Loop) allDone() bool {
	if l.rampUpActive {
		return false
	}
	for _, c := range l.batch.Clients {
		if c.State != client.StateFinishedOK && c.State != client.StateError {
			return false
		}
	}
	return true
}

// installHousekeepingTimers mirrors init_timers_and_add_initial_clients_to_load:
// a logfile-rewind timer, a screen-input poll timer starting 3s out, and
// (only if ramp-up is configured) a ramp-up timer, all periodic at 1s
// except the logfile rewind which fires once a minute.
func (l *Loop) installHousekeepingTimers(now time.Time) {
	l.tq.Schedule(now.Add(logRewindPeriod), logRewindPeriod, logRewindTimerCtx{}, l.handleLogRewind)
	l.tq.Schedule(now.Add(screenInputInitial), screenInputPeriod, screenInputTimerCtx{}, l.handleScreenInput)
	if l.batch.Config.ClientNumMax > l.batch.Config.ClientNumStart {
		l.tq.Schedule(now.Add(rampUpPeriod), rampUpPeriod, rampUpTimerCtx{}, l.handleRampUp)
	}
}

func (l *Loop) handleLogRewind(time.Time, interface{}) {
	l.logRewindCount++
	log.LogVf("engine: logfile rewind tick %d for batch %s", l.logRewindCount, l.batch.Config.Name)
}

func (l *Loop) handleScreenInput(time.Time, interface{}) {
	// Interactive keyboard input (+/- client count) is out of scope for a
	// batch CLI without a TTY loop; this tick exists only so the same
	// housekeeping cadence as loader_fsm.c is observable/testable.
}

// handleRampUp mirrors add_loading_clients: grow the population by
// ClientsInitialInc each tick until ClientNumMax is reached, then disable
// itself by cancelling its own periodic re-fire.
func (l *Loop) handleRampUp(now time.Time, ctx interface{}) {
	cfg := l.batch.Config
	if l.clientsCurrentSchedNum >= cfg.ClientNumMax {
		l.rampUpActive = false
		l.tq.CancelContext(rampUpTimerCtx{})
		return
	}
	toAdd := cfg.ClientsInitialInc
	if toAdd <= 0 {
		toAdd = 1
	}
	remaining := cfg.ClientNumMax - l.clientsCurrentSchedNum
	if toAdd > remaining {
		toAdd = remaining
	}
	for i := 0; i < toAdd; i++ {
		c, err := l.batch.AddClient()
		if err != nil {
			log.Errf("engine: ramp-up add client failed: %v", err)
			continue
		}
		l.dispatchAdvance(c, now)
	}
	l.clientsCurrentSchedNum += toAdd
	if l.clientsCurrentSchedNum >= cfg.ClientNumMax {
		l.rampUpActive = false
		l.tq.CancelContext(rampUpTimerCtx{})
	}
}

// dispatchAdvance mirrors load_next_step: advance the client's state
// machine, then either submit its current URL immediately (schedNow) or
// schedule it for now+NextDelay, or, on a terminal state, remove it from
// load and free its pending timers (client_remove_from_load).
func (l *Loop) dispatchAdvance(c *client.Client, now time.Time) {
	state, schedNow := c.Advance(now)
	switch state {
	case client.StateFinishedOK, client.StateError:
		l.tq.CancelContext(c)
		return
	}
	if schedNow {
		l.submit(c)
		return
	}
	l.tq.After(now, c.NextDelay, c, func(fireNow time.Time, ctx interface{}) {
		l.submit(ctx.(*client.Client))
	})
}

func (l *Loop) submit(c *client.Client) {
	url, ok := c.CurrentURL()
	if !ok {
		return
	}
	if !c.DecideFetch(c.CurrIndex, url) {
		// FETCH_PROBABILITY told us to skip this URL entirely: no transfer,
		// no stats, just move the client's state machine on as if it had
		// already completed this step.
		l.dispatchAdvance(c, time.Now())
		return
	}

	body := client.ComposeBody(url, c.Index)
	method := url.Method
	if method == "" && len(body) > 0 {
		method = "POST"
	}
	req := transfer.Request{
		ClientIndex: c.Index,
		URL:         url.Address,
		Method:      method,
		Jar:         c.Jar,
		Body:        body,
		FTPUser:     url.Username,
		FTPPassword: url.Password,
		Timeout:     url.CompletionTimeout.Sample(),
	}
	if l.batch.AddrPlan != nil {
		req.SourceIP = l.batch.AddrPlan.AddressFor(c.Index)
	}
	l.activeClients++
	metrics.SetActiveClients(l.batch.Config.Name, l.activeClients)
	l.multi.Submit(req)
}

// handleResult mirrors the multi-handle's completion callback feeding
// op_stat_update: record the transfer in the aggregator, then advance the
// owning client's state machine for its next step.
func (l *Loop) handleResult(res transfer.Result) {
	c := l.clientByIndex(res.ClientIndex)
	if c == nil {
		return
	}
	l.activeClients--
	metrics.SetActiveClients(l.batch.Config.Name, l.activeClients)
	proto := stats.HTTP
	if res.IsHTTPS {
		proto = stats.HTTPS
	}
	class := res.StatusClass
	if res.Err != nil {
		c.Fail()
		class = 0
	} else if res.EffectiveURL != "" {
		c.LastEffectiveURL = res.EffectiveURL
	}
	l.batch.Stats.Record(proto, res.BytesIn, res.BytesOut, class, res.Delay.Seconds(), res.Is401407)
	metrics.RecordRequest(proto.String(), class, res.BytesIn, res.BytesOut)
	l.dispatchAdvance(c, time.Now())
}

func (l *Loop) clientByIndex(idx int) *client.Client {
	for _, c := range l.batch.Clients {
		if c.Index == idx {
			return c
		}
	}
	return nil
}
