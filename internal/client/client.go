// Package client implements the per-client state machine (C5): each
// simulated client walks its configured list of URLs through INIT -> URLS
// -> (ERROR | FINISHED_OK), grounded on curl-loader's client.h (cstate enum,
// client_context fields) and loader_fsm.c (load_next_step, pick_up_next_url,
// load_error_state, load_urls_state).
package client

import (
	"math/rand"
	"net/http/cookiejar"
	"time"
)

// State mirrors curl-loader's cstate enum, collapsed to the four states
// spec.md names: the source's CSTATE_LOGIN/CSTATE_UAS_CYCLING/CSTATE_LOGOFF
// fold into URLs as non-cycling-prefix / cycling-region / non-cycling-suffix
// positions within the same URL list (see pickUpNextURL).
type State int

const (
	StateError State = iota - 1
	StateInit
	StateURLs
	StateFinishedOK
)

func (s State) String() string {
	switch s {
	case StateError:
		return "ERROR"
	case StateInit:
		return "INIT"
	case StateURLs:
		return "URLS"
	case StateFinishedOK:
		return "FINISHED_OK"
	default:
		return "UNKNOWN"
	}
}

// Credential is one username/password pair, used both for a URL's base
// USERNAME/PASSWORD tags and for one row of a FORM_RECORDS_FILE table,
// grounded on parse_conf.c's url_context.username/password fields and
// load_form_records_file's form_records_cdata rows.
type Credential struct {
	User     string
	Password string
}

// MillisRange is a millisecond duration, or a [Low,High] range sampled
// uniformly at each use - mirrors the "ms or low-high ms range" tags
// TIMER_AFTER_URL_SLEEP and TIMER_URL_COMPLETION accept (spec.md §6.1).
// High <= Low means "no range configured".
type MillisRange struct {
	Low, High int
}

// Sample returns a duration: Low ms if no range (High <= Low), otherwise a
// uniformly sampled value in [Low, High] ms.
func (r MillisRange) Sample() time.Duration {
	if r.High <= r.Low {
		return time.Duration(r.Low) * time.Millisecond
	}
	n := r.Low + rand.Intn(r.High-r.Low+1)
	return time.Duration(n) * time.Millisecond
}

// FormUsage selects how a URL's FormTemplate is filled in per client,
// mirroring loader.c's init_client_post_buffer switch over form_usage_type.
type FormUsage int

const (
	// FormUsageAsIs uses FormTemplate verbatim, with no substitution - the
	// default when FORM_USAGE_TYPE is not configured.
	FormUsageAsIs FormUsage = iota
	// FormUsageUniqueUsersAndPasswords fills %s%d/%s%d with
	// Username/clientIndex+1/Password/clientIndex+1.
	FormUsageUniqueUsersAndPasswords
	// FormUsageUniqueUsersSamePassword fills %s%d/%s with
	// Username/clientIndex+1/Password.
	FormUsageUniqueUsersSamePassword
	// FormUsageSingleUser fills %s/%s with Username/Password, identical for
	// every client.
	FormUsageSingleUser
	// FormUsageRecordsFromFile fills %s/%s from one row of FormRecords,
	// indexed by client (sequential or random per FormRecordsRandom).
	FormUsageRecordsFromFile
)

// URL is one entry in a client's URL walk, mirroring the per-URL fields
// read out of the batch's url<N> config blocks.
type URL struct {
	Address            string
	IsHTTPS            bool
	Method             string // GET/POST/PUT, from REQUEST_TYPE; "" lets the caller infer
	TimerAfterURLSleep time.Duration
	SleepRange         MillisRange // set instead of TimerAfterURLSleep when a range is configured
	CompletionTimeout  MillisRange // TIMER_URL_COMPLETION: per-transfer deadline
	UseCurrent         bool        // send to the previous transfer's effective URL instead of Address
	PostData           []byte

	// FetchProbability is 1-100 (spec.md §3's "1-100%"); 100 (the URL
	// constructor's default) means always fetch. FetchProbabilityOnce
	// mirrors FETCH_PROBABILITY_ONCE: decide once per client and reuse that
	// decision on every cycle, instead of redrawing each time.
	FetchProbability     int
	FetchProbabilityOnce bool

	// Username/Password/FormTemplate/FormUsage drive per-client body
	// composition (see ComposeBody); FormRecords/FormRecordsRandom back
	// FormUsageRecordsFromFile.
	Username          string
	Password          string
	FormTemplate      string
	FormUsage         FormUsage
	FormRecords       []Credential
	FormRecordsRandom bool
}

// Client is one simulated client walking its URL list. It holds no timer
// node of its own: engine.Loop queues its interleave timers with the
// *Client as the timer's ctx value and cancels them with
// timerq.CancelContext - composition instead of client_context's embedded
// "timer_node tn" first member, per the Open Question decision recorded in
// DESIGN.md.
type Client struct {
	Name  string
	Index int

	URLs                     []URL
	FirstCycling, LastCycling int
	CyclesNum                 int

	CycleNum         int
	CyclingCompleted bool
	CurrIndex        int

	State State

	// RecoveryEnabled mirrors "-e disable recovery": when true (default),
	// an error does not end the client outright; it instead tries to
	// resume cycling, as load_error_state does when error_recovery_client
	// is set.
	RecoveryEnabled bool

	ErrorsNum    int
	GetPostCount int

	// NextDelay is how long the engine should wait, after the most recent
	// Advance, before dispatching the client's current URL - the just
	// completed URL's TimerAfterURLSleep, read by advanceURLs before
	// picking the next URL. Zero means dispatch immediately (schedNow).
	NextDelay time.Duration

	Jar *cookiejar.Jar

	ReqTimestamp time.Time

	// LastEffectiveURL is the address the previous transfer actually ended
	// on (after following redirects), used by CurrentURL when the current
	// URL has UseCurrent set - mirrors client_context's reuse of curl's
	// CURLINFO_EFFECTIVE_URL for "use current" URLs.
	LastEffectiveURL string

	// fetchDecisions caches FETCH_PROBABILITY_ONCE outcomes per URL index
	// so a client redraws at most once per URL across every cycle.
	fetchDecisions map[int]bool
}

// New returns a Client ready to enter StateInit. firstCycling/lastCycling
// are 0-based indices bounding the inclusive cycling region of urls, per
// spec.md §3's URL descriptor layout (non-cycling prefix, cycling region,
// non-cycling suffix).
func New(name string, index int, urls []URL, firstCycling, lastCycling, cyclesNum int) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		Name:            name,
		Index:           index,
		URLs:            urls,
		FirstCycling:    firstCycling,
		LastCycling:     lastCycling,
		CyclesNum:       cyclesNum,
		State:           StateInit,
		RecoveryEnabled: true,
		Jar:             jar,
	}, nil
}

// CurrentURL returns the URL the client is (or is about to be) positioned
// at, or false if the client has no URLs configured. When the URL has
// UseCurrent set and a previous transfer recorded an effective (possibly
// redirected) target, that target replaces Address - mirrors client_context
// re-POSTing against curl's CURLINFO_EFFECTIVE_URL instead of the
// configured one.
func (c *Client) CurrentURL() (URL, bool) {
	if c.CurrIndex < 0 || c.CurrIndex >= len(c.URLs) {
		return URL{}, false
	}
	u := c.URLs[c.CurrIndex]
	if u.UseCurrent && c.LastEffectiveURL != "" {
		u.Address = c.LastEffectiveURL
	}
	return u, true
}

// DecideFetch reports whether the client should actually issue the
// transfer for u (positioned at urlIndex), mirroring pick_up_next_url's
// fetch-probability draw: a uniform integer in [1,100] compared against
// FetchProbability, cached per URL index when FetchProbabilityOnce is set.
func (c *Client) DecideFetch(urlIndex int, u URL) bool {
	prob := u.FetchProbability
	if prob <= 0 || prob >= 100 {
		return prob != 0
	}
	if u.FetchProbabilityOnce {
		if c.fetchDecisions == nil {
			c.fetchDecisions = make(map[int]bool)
		}
		if d, ok := c.fetchDecisions[urlIndex]; ok {
			return d
		}
		d := rand.Intn(100)+1 <= prob
		c.fetchDecisions[urlIndex] = d
		return d
	}
	return rand.Intn(100)+1 <= prob
}

// Advance is the single transition function driving the client forward one
// step, mirroring load_next_step: it dispatches on the current state, and
// returns the resulting state plus whether the caller should re-dispatch
// the client immediately (schedNow) rather than wait for its
// TimerAfterURLSleep - mirrors load_next_step's
// "interleave_waiting_time == 0 => sched_now" rule, applied here to the
// just-completed URL's configured sleep.
func (c *Client) Advance(now time.Time) (State, bool) {
	switch c.State {
	case StateError:
		return c.advanceError(now)
	case StateFinishedOK:
		return StateFinishedOK, false
	default:
		return c.advanceURLs(now)
	}
}

// advanceError mirrors load_error_state: when recovery is enabled, it
// advances the cycle counter (as if the failed URL completed a cycle) and
// either resumes in URLS (more cycles owed) or stays in ERROR terminally.
func (c *Client) advanceError(now time.Time) (State, bool) {
	if !c.RecoveryEnabled {
		return StateError, false
	}
	c.CycleNum++
	if c.CyclesNum > 0 && c.CycleNum >= c.CyclesNum {
		return StateError, false
	}
	c.State = StateURLs
	return c.advanceURLs(now)
}

// advanceURLs mirrors load_urls_state/load_init_state: on first entry it
// starts at index 0; otherwise it reads the just-completed URL's sleep
// timer, picks up the next URL via pickUpNextURL, and either finishes or
// stays in URLS positioned at the new URL.
func (c *Client) advanceURLs(now time.Time) (State, bool) {
	if c.State == StateInit {
		c.State = StateURLs
		c.CurrIndex = 0
		if len(c.URLs) == 0 {
			c.State = StateFinishedOK
			return StateFinishedOK, false
		}
		return StateURLs, true
	}

	completed, ok := c.CurrentURL()
	var sleep time.Duration
	if ok {
		sleep = completed.TimerAfterURLSleep
		if completed.SleepRange.High > 0 {
			sleep = completed.SleepRange.Sample()
		}
	}

	if !c.pickUpNextURL() {
		c.State = StateFinishedOK
		c.NextDelay = 0
		return StateFinishedOK, false
	}
	c.ReqTimestamp = now
	c.NextDelay = sleep
	if sleep == 0 {
		return StateURLs, true
	}
	return StateURLs, false
}

// pickUpNextURL mirrors loader_fsm.c's pick_up_next_url exactly: once
// cycling has completed it only advances through the non-cycling suffix by
// plain index increment; before that, it advances by index within
// [0,lastCycling], and on reaching lastCycling either loops the cycling
// region back to firstCycling (more cycles owed) or marks cycling complete
// and either stops (if already at the last URL) or steps into the suffix.
// With no cycling region (lastCycling < 0) cycling counts as complete from
// the start, so every URL is fetched once.
func (c *Client) pickUpNextURL() bool {
	if c.LastCycling < 0 {
		// No cycling region configured: the list is walked once.
		c.CyclingCompleted = true
	}
	if c.CyclingCompleted {
		if c.CurrIndex < len(c.URLs)-1 {
			c.CurrIndex++
			return true
		}
		return false
	}

	if c.CurrIndex < c.LastCycling {
		c.CurrIndex++
		return true
	}

	// At lastCycling: one more full pass through the cycling region is done.
	c.CycleNum++
	if c.CycleNum >= c.CyclesNum {
		c.CyclingCompleted = true
		if c.CurrIndex == len(c.URLs)-1 {
			return false
		}
		c.CurrIndex++
		return true
	}
	c.CurrIndex = c.FirstCycling
	return true
}

// Fail records a transport/protocol error for the current URL, mirroring
// client_context.errors_num++ plus the state flip to CSTATE_ERROR that
// happens on the multi-handle reporting a failed transfer.
func (c *Client) Fail() {
	c.ErrorsNum++
	c.State = StateError
}

