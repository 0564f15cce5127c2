// Package config parses curl-loader-style batch configuration files: a
// sequence of TAG = value lines, one or more BATCH_NAME-delimited batches,
// each followed by a run of URL blocks. Grounded on curl-loader's
// parse_conf.c (add_param_to_batch's '='-split/quote-strip/comment-trim
// tokenizer and its tp_map tag dispatch table).
package config

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"fortio.org/log"

	"fortio.org/curlloader/internal/batch"
	"fortio.org/curlloader/internal/client"
)

// builder accumulates one batch.Config plus the per-URL DONT_CYCLE flags
// needed to compute FirstCyclingURL/LastCyclingURL once the batch closes,
// mirroring validate_batch_url's post-parse cycling-region computation.
type builder struct {
	cfg       *batch.Config
	dontCycle []bool
}

func newBuilder(name string) *builder {
	return &builder{cfg: &batch.Config{Name: name, ClientNumStart: 1, ClientNumMax: 1, CyclesNum: 1}}
}

func (b *builder) currentURL() (*client.URL, error) {
	if len(b.cfg.URLs) == 0 {
		return nil, fmt.Errorf("config: tag applies to a URL but no URL= seen yet")
	}
	return &b.cfg.URLs[len(b.cfg.URLs)-1], nil
}

func (b *builder) close() *batch.Config {
	first, last := -1, -1
	for i, dc := range b.dontCycle {
		if dc {
			continue
		}
		if first == -1 {
			first = i
		}
		last = i
	}
	if first == -1 {
		first, last = 0, -1
	}
	b.cfg.FirstCyclingURL = first
	b.cfg.LastCyclingURL = last
	return b.cfg
}

type tagParser func(b *builder, value string) error

var tagParsers = map[string]tagParser{
	"CLIENTS_NUM_MAX":    func(b *builder, v string) error { return setInt(&b.cfg.ClientNumMax, v) },
	"CLIENTS_NUM_START":  func(b *builder, v string) error { return setInt(&b.cfg.ClientNumStart, v) },
	"CLIENTS_RAMPUP_INC": func(b *builder, v string) error { return setInt(&b.cfg.ClientsInitialInc, v) },
	"CYCLES_NUM":         func(b *builder, v string) error { return setInt(&b.cfg.CyclesNum, v) },
	"INTERFACE": func(b *builder, v string) error {
		b.cfg.Interface = v
		return nil
	},
	"IP_ADDR_MIN": func(b *builder, v string) error {
		b.cfg.BaseIP = v
		return nil
	},
	"IP_SHARED_NUM": func(b *builder, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: IP_SHARED_NUM: %w", err)
		}
		// Spec: a value of 1 means every client shares the single base
		// address; anything else (including the default of more than one)
		// gives each client its own address via addrplan's increment.
		b.cfg.SharedIP = n == 1
		return nil
	},
	"IP_ADDR_MAX": func(b *builder, v string) error {
		ip := net.ParseIP(v)
		if ip == nil {
			return fmt.Errorf("config: IP_ADDR_MAX: invalid address %q", v)
		}
		b.cfg.MaxIP = v
		return nil
	},
	"NETMASK": func(b *builder, v string) error {
		n, err := parseNetmask(v)
		if err != nil {
			return fmt.Errorf("config: NETMASK: %w", err)
		}
		b.cfg.NetmaskBits = n
		return nil
	},
	"URL": func(b *builder, v string) error {
		u := client.URL{Address: v, IsHTTPS: strings.HasPrefix(v, "https://"), FetchProbability: 100}
		b.cfg.URLs = append(b.cfg.URLs, u)
		b.dontCycle = append(b.dontCycle, false)
		if u.IsHTTPS {
			b.cfg.IsHTTPS = true
		}
		return nil
	},
	"URL_DONT_CYCLE": func(b *builder, v string) error {
		if len(b.dontCycle) == 0 {
			return fmt.Errorf("config: URL_DONT_CYCLE before any URL=")
		}
		b.dontCycle[len(b.dontCycle)-1] = isTrue(v)
		return nil
	},
	"URL_USE_CURRENT": func(b *builder, v string) error {
		u, err := b.currentURL()
		if err != nil {
			return err
		}
		if isTrue(v) && len(b.cfg.URLs) == 1 {
			return fmt.Errorf("config: URL_USE_CURRENT not allowed on the first URL")
		}
		u.UseCurrent = isTrue(v)
		return nil
	},
	"TIMER_AFTER_URL_SLEEP": func(b *builder, v string) error {
		u, err := b.currentURL()
		if err != nil {
			return err
		}
		low, high, err := parseMillisRange(v)
		if err != nil {
			return fmt.Errorf("config: TIMER_AFTER_URL_SLEEP: %w", err)
		}
		if high <= low {
			u.TimerAfterURLSleep = time.Duration(low) * time.Millisecond
		} else {
			u.SleepRange = client.MillisRange{Low: low, High: high}
		}
		return nil
	},
	"TIMER_URL_COMPLETION": func(b *builder, v string) error {
		u, err := b.currentURL()
		if err != nil {
			return err
		}
		low, high, err := parseMillisRange(v)
		if err != nil {
			return fmt.Errorf("config: TIMER_URL_COMPLETION: %w", err)
		}
		u.CompletionTimeout = client.MillisRange{Low: low, High: high}
		return nil
	},
	"TIMER_TCP_CONN_SETUP": func(b *builder, v string) error {
		// Per-URL connect-setup deadline. curlloader applies a single
		// batch-wide connect timeout (cfg.ConnectTimeoutMs, via -c); this
		// value is recognised and logged so batch files carrying it still
		// load, matching FRESH_CONNECT's recognised-but-uniform handling.
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("config: TIMER_TCP_CONN_SETUP: %w", err)
		}
		log.LogVf("config: TIMER_TCP_CONN_SETUP=%s recognised, batch-wide connect timeout applies instead", v)
		return nil
	},
	"REQUEST_TYPE": func(b *builder, v string) error {
		u, err := b.currentURL()
		if err != nil {
			return err
		}
		method := strings.ToUpper(v)
		switch method {
		case "GET", "POST", "PUT":
			u.Method = method
		default:
			return fmt.Errorf("config: unsupported REQUEST_TYPE %q", v)
		}
		return nil
	},
	"FORM_STRING": func(b *builder, v string) error {
		u, err := b.currentURL()
		if err != nil {
			return err
		}
		u.FormTemplate = v
		u.PostData = []byte(v)
		return nil
	},
	"FORM_USAGE_TYPE": func(b *builder, v string) error {
		u, err := b.currentURL()
		if err != nil {
			return err
		}
		fu, err := client.ParseFormUsage(v)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		u.FormUsage = fu
		return nil
	},
	"FORM_RECORDS_FILE": func(b *builder, v string) error {
		u, err := b.currentURL()
		if err != nil {
			return err
		}
		records, err := loadCredentialsFile(v)
		if err != nil {
			return err
		}
		u.FormRecords = records
		return nil
	},
	"FORM_RECORDS_RANDOM": func(b *builder, v string) error {
		u, err := b.currentURL()
		if err != nil {
			return err
		}
		u.FormRecordsRandom = isTrue(v)
		return nil
	},
	"FETCH_PROBABILITY": func(b *builder, v string) error {
		u, err := b.currentURL()
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: FETCH_PROBABILITY: %w", err)
		}
		if n < 1 || n > 100 {
			return fmt.Errorf("config: FETCH_PROBABILITY must be 1-100, got %d", n)
		}
		u.FetchProbability = n
		return nil
	},
	"FETCH_PROBABILITY_ONCE": func(b *builder, v string) error {
		u, err := b.currentURL()
		if err != nil {
			return err
		}
		u.FetchProbabilityOnce = isTrue(v)
		return nil
	},
	"USERNAME": func(b *builder, v string) error {
		u, err := b.currentURL()
		if err != nil {
			return err
		}
		u.Username = v
		return nil
	},
	"PASSWORD": func(b *builder, v string) error {
		u, err := b.currentURL()
		if err != nil {
			return err
		}
		u.Password = v
		return nil
	},
	"FRESH_CONNECT": func(b *builder, v string) error {
		// fresh-connect-per-request is the HTTP transport's default
		// behaviour here (no pooled keep-alive reuse across clients);
		// recognised for config-file compatibility, nothing to store.
		return nil
	},
}

// ignoredTags are recognised curl-loader tags with no idiomatic Go
// equivalent wired yet (active/passive FTP mode selection, multipart
// upload bodies, proxy/web auth schemes, response-code-as-error tables,
// throttling). They are accepted and logged rather than rejected, so
// existing batch files still load.
var ignoredTags = map[string]bool{
	"USER_AGENT": true, "URLS_NUM": true, "URL_SHORT_NAME": true, "HEADER": true,
	"UPLOAD_FILE": true, "MULTIPART_FORM_DATA": true, "WEB_AUTH_METHOD": true,
	"WEB_AUTH_CREDENTIALS": true, "PROXY_AUTH_METHOD": true, "PROXY_AUTH_CREDENTIALS": true,
	"FTP_ACTIVE": true, "LOG_RESP_HEADERS": true, "LOG_RESP_BODIES": true,
	"RESPONSE_STATUS_ERRORS": true, "TRANSFER_LIMIT_RATE": true,
	"FORM_RECORDS_FILE_MAX_NUM": true,
}

// parseMillisRange parses either a single millisecond value "N" or a
// "LOW-HIGH" range, mirroring the handful of curl-loader tags documented as
// "ms or low-high ms range". high == low (both set from N) when no range
// was given.
func parseMillisRange(v string) (low, high int, err error) {
	parts := strings.SplitN(v, "-", 2)
	if len(parts) == 1 {
		n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, 0, err
		}
		return n, n, nil
	}
	low, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	high, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	if high < low {
		return 0, 0, fmt.Errorf("range high %d below low %d", high, low)
	}
	return low, high, nil
}

// parseNetmask accepts either a bare CIDR prefix length ("24") or a dotted
// mask ("255.255.255.0"), mirroring parse_conf.c's netmask_parser which
// takes either form and converts dotted masks to a bit count.
func parseNetmask(v string) (int, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 || n > 128 {
			return 0, fmt.Errorf("netmask bit count %d out of range", n)
		}
		return n, nil
	}
	ip := net.ParseIP(v)
	if ip == nil || ip.To4() == nil {
		return 0, fmt.Errorf("invalid dotted netmask %q", v)
	}
	mask := net.IPMask(ip.To4())
	ones, _ := mask.Size()
	return ones, nil
}

// loadCredentialsFile reads a FORM_RECORDS_FILE table: one user/password
// record per line, separated by the first of ",", ":", ";", " ", "@", "/"
// found on the first non-empty line, mirroring
// load_form_record_string's separator auto-detection.
func loadCredentialsFile(path string) ([]client.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: FORM_RECORDS_FILE: %w", err)
	}
	supportedSeps := []string{",", ":", ";", " ", "@", "/"}
	var sep string
	var records []client.Credential
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if sep == "" {
			for _, s := range supportedSeps {
				if strings.Contains(line, s) {
					sep = s
					break
				}
			}
			if sep == "" {
				return nil, fmt.Errorf("config: FORM_RECORDS_FILE: no supported separator in %q", line)
			}
		}
		parts := strings.SplitN(line, sep, 3)
		rec := client.Credential{User: strings.TrimSpace(parts[0])}
		if len(parts) > 1 {
			rec.Password = strings.TrimSpace(parts[1])
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("config: FORM_RECORDS_FILE: %s has no records", path)
	}
	return records, nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %q is not an integer: %w", v, err)
	}
	*dst = n
	return nil
}

func isTrue(v string) bool {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "1", "YES", "Y", "TRUE", "ON":
		return true
	default:
		return false
	}
}

// ParseFile opens filename and parses it, mirroring parse_config_file's
// fopen-then-line-loop structure.
func ParseFile(filename string) ([]*batch.Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", filename, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads TAG = value lines from r, starting a new batch on every
// BATCH_NAME and folding every other recognised tag into the current
// batch, mirroring add_param_to_batch's batch_index bump on the
// tp_map[0] ("BATCH_NAME") tag.
func Parse(r io.Reader) ([]*batch.Config, error) {
	scanner := bufio.NewScanner(r)
	var batches []*batch.Config
	var cur *builder

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tag, value, err := splitTagValue(line)
		if err != nil {
			return nil, fmt.Errorf("config: line %d: %w", lineNo, err)
		}

		if tag == "BATCH_NAME" {
			if cur != nil {
				batches = append(batches, cur.close())
			}
			cur = newBuilder(value)
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("config: line %d: tag %s before BATCH_NAME", lineNo, tag)
		}

		if parser, ok := tagParsers[tag]; ok {
			if err := parser(cur, value); err != nil {
				return nil, fmt.Errorf("config: line %d: %w", lineNo, err)
			}
			continue
		}
		if ignoredTags[tag] {
			log.LogVf("config: line %d: tag %s recognised but not applied", lineNo, tag)
			continue
		}
		return nil, fmt.Errorf("config: line %d: unknown tag %q", lineNo, tag)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	if cur != nil {
		batches = append(batches, cur.close())
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("config: no BATCH_NAME found")
	}
	return batches, nil
}

// splitTagValue mirrors add_param_to_batch: split on the first '=', trim
// whitespace on both sides, strip a trailing '#'-comment from the value,
// and unwrap a single pair of surrounding double quotes.
func splitTagValue(line string) (tag, value string, err error) {
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return "", "", fmt.Errorf("missing '=' in %q", line)
	}
	tag = strings.TrimSpace(line[:idx])
	value = line[idx+1:]
	if h := strings.IndexByte(value, '#'); h >= 0 {
		value = value[:h]
	}
	value = strings.TrimSpace(value)
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		value = value[1 : len(value)-1]
	}
	if tag == "" {
		return "", "", fmt.Errorf("empty tag in %q", line)
	}
	return tag, value, nil
}
