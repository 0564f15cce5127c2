// Copyright 2018 Fortio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bincommon is the common flag handling and config-to-batch wiring
// shared by the curlloader executable, mirroring curl-loader's own getopt
// table in conf.c (the -c/-e/-f/-l/-o/-t/-u single-letter flags).
package bincommon

import (
	"flag"
	"os"
	"time"

	"fortio.org/log"

	"fortio.org/curlloader/config"
	"fortio.org/curlloader/internal/batch"
)

var (
	// ConfigFileFlag is the path to the batch configuration file, curl-loader's -f.
	ConfigFileFlag = flag.String("f", "", "`Path` to the batch configuration file (required)")
	// ConnectTimeoutFlag is curl-loader's -c, the per-connection dial and TLS handshake timeout.
	ConnectTimeoutFlag = flag.Duration("c", 5*time.Second, "Connect (dial and TLS handshake) `timeout`")
	// DisableRecoveryFlag is curl-loader's -e: a client that errors does not retry.
	DisableRecoveryFlag = flag.Bool("e", false, "Disable per-client error recovery")
	// LogRewindCyclesFlag is curl-loader's -l. It is parsed but nothing reads
	// it: no .log file is written, so there is nothing to rewind.
	LogRewindCyclesFlag = flag.Int("l", 0, "Logfile rewind `cycles` threshold (accepted, has no effect: no log file is written)")
	// StreamStdoutFlag is curl-loader's -o. It is parsed but nothing reads
	// it: response bodies are always discarded.
	StreamStdoutFlag = flag.Bool("o", false, "Stream fetched response bodies to stdout (accepted, has no effect: bodies are discarded)")
	// FreshConnectFlag is curl-loader's -r: force a fresh TCP connection per request.
	FreshConnectFlag = flag.Bool("r", false, "Force a fresh connection for every request")
	// WorkersFlag is curl-loader's -t, the number of concurrent transfer workers per batch.
	WorkersFlag = flag.Int("t", 4, "Number of concurrent transfer `workers` per batch")
	// LogURLsFlag is curl-loader's -u. SharedMain copies it into each
	// batch.Config's LogURLs, which nothing reads, so no URL is logged.
	LogURLsFlag = flag.Bool("u", false, "Log every fetched URL (accepted, has no effect)")
	// InsecureFlag disables TLS certificate verification for https:// and ftps:// targets.
	InsecureFlag = flag.Bool("k", false, "Do not verify TLS certificates for https/ftps targets")
	// OutputDirFlag is the directory .log/.txt/.ctx/url<N>/ output files are written under.
	OutputDirFlag = flag.String("output-dir", ".", "`Directory` for .log/.txt/.ctx output files")
)

// SharedMain parses -f into validated batch configs, applying the process-wide
// flag overrides (-c/-e/-u/-k) onto every batch the file defines (-t is only
// logged here; cli passes it to the transfer dispatcher), mirroring
// conf.c's getopt loop feeding values into each batch_context before the run
// starts.
func SharedMain() ([]*batch.Config, error) {
	if *ConfigFileFlag == "" {
		return nil, os.ErrInvalid
	}
	batches, err := config.ParseFile(*ConfigFileFlag)
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		b.ConnectTimeoutMs = int(ConnectTimeoutFlag.Milliseconds())
		b.RecoveryDisabled = *DisableRecoveryFlag
		b.LogURLs = *LogURLsFlag
		b.InsecureSSL = *InsecureFlag
		if *WorkersFlag > 0 && b.ClientNumMax > 0 {
			log.LogVf("bincommon: batch %s using %d transfer workers", b.Name, *WorkersFlag)
		}
	}
	return batches, nil
}
