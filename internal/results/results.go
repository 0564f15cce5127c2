// Package results writes the end-of-run output files (§6.3): a `.txt`
// statistics snapshot, a `.ctx` per-client context dump, and the `url<N>/`
// directories holding one subdirectory per configured URL. Grounded on
// fortio-fortio/results.go (ID/formatDate reuse) and spec.md §6.3.
package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"fortio.org/curlloader/internal/client"
	"fortio.org/curlloader/internal/stats"
	"fortio.org/curlloader/version"
)

// RunInfo identifies one batch run for output naming and banners.
type RunInfo struct {
	BatchName string
	RunID     string
	StartTime time.Time
}

// NewRunInfo stamps a fresh run ID (github.com/google/uuid, same ecosystem
// choice the teacher already depends on) for a batch starting now.
func NewRunInfo(batchName string, start time.Time) RunInfo {
	return RunInfo{BatchName: batchName, RunID: uuid.NewString(), StartTime: start}
}

// ID returns a filesystem-safe identifier for this run: the formatted
// start time plus an alphanumeric-filtered batch name, truncated to 64
// bytes, mirroring results.RunnerResults.ID's scheme.
func (r RunInfo) ID() string {
	base := formatDate(r.StartTime)
	if r.BatchName == "" {
		return base
	}
	base += "_" + alphaNumOnly(r.BatchName)
	if len(base) > 64 {
		return base[:64]
	}
	return base
}

func formatDate(d time.Time) string {
	return fmt.Sprintf("%d-%02d-%02d-%02d%02d%02d",
		d.Year(), d.Month(), d.Day(), d.Hour(), d.Minute(), d.Second())
}

func alphaNumOnly(s string) string {
	var b strings.Builder
	lastWasSep := true
	for _, r := range s {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			lastWasSep = false
		} else if !lastWasSep {
			b.WriteByte('_')
			lastWasSep = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// WriteHeader writes the `.txt` statistics file's banner line, identifying
// the run, before any interval snapshot rows are appended. Grounded on
// curl-loader's print_statistics_header, which writes one banner followed
// by a stream of interval rows rather than a single end-of-run dump.
func WriteHeader(w io.Writer, info RunInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "curlloader %s\trun\t%s\tbatch\t%s\tstart\t%s\n",
		version.Short(), info.RunID, info.BatchName, info.StartTime.Format(time.RFC3339))
	return tw.Flush()
}

// WriteFooterAndTotals closes out a `.txt` statistics file: the
// all-asterisks separator row (spec 6.3) followed by the final cumulative
// Total row per protocol.
func WriteFooterAndTotals(w io.Writer, agg *stats.Aggregator, runTime time.Duration, clients int) error {
	if err := agg.WriteFooter(w); err != nil {
		return err
	}
	return agg.WriteTotals(w, runTime, clients)
}

// WriteContextDump writes the `.ctx` per-client context dump as CSV (an
// ecosystem-standard choice over hand-rolled comma-joining, matching
// rapi/tsv.go's use of encoding/csv-adjacent helpers for tabular export).
func WriteContextDump(w io.Writer, clients []*client.Client) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()
	if err := cw.Write([]string{"index", "name", "state", "cycle_num", "curr_index", "errors_num"}); err != nil {
		return err
	}
	for _, c := range clients {
		row := []string{
			strconv.Itoa(c.Index),
			c.Name,
			c.State.String(),
			strconv.Itoa(c.CycleNum),
			strconv.Itoa(c.CurrIndex),
			strconv.Itoa(c.ErrorsNum),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// OutputPaths holds the filesystem locations the `.txt` writers
// (WriteHeader, WriteFooterAndTotals), WriteContextDump and a log writer
// should use for one run; nothing in this module writes LogFile.
type OutputPaths struct {
	LogFile string
	TextFile string
	CtxFile  string
	URLDirs  []string
}

// PreparePaths computes the standard `.log`/`.txt`/`.ctx`/`url<N>/` layout
// under dir for one run, creating the url<N> directories.
func PreparePaths(dir string, info RunInfo, numURLs int) (OutputPaths, error) {
	base := filepath.Join(dir, info.ID())
	out := OutputPaths{
		LogFile:  base + ".log",
		TextFile: base + ".txt",
		CtxFile:  base + ".ctx",
	}
	for i := 0; i < numURLs; i++ {
		d := filepath.Join(dir, fmt.Sprintf("url%d", i))
		if err := os.MkdirAll(d, 0o755); err != nil {
			return out, fmt.Errorf("results: create %s: %w", d, err)
		}
		out.URLDirs = append(out.URLDirs, d)
	}
	return out, nil
}
