// Copyright 2017 Istio Authors
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

// Package cli wires flag parsing (via fortio.org/cli and fortio.org/scli),
// config loading and one engine.Loop per batch into the curlloader binary's
// entry point, mirroring main.c's top-level parse-then-pthread_create-per-batch
// structure (minus the threads: one goroutine per batch here).
package cli // import "fortio.org/curlloader/cli"

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	fcli "fortio.org/cli"
	"fortio.org/log"
	"fortio.org/scli"

	"fortio.org/curlloader/bincommon"
	"fortio.org/curlloader/ftls"
	"fortio.org/curlloader/internal/batch"
	"fortio.org/curlloader/internal/engine"
	"fortio.org/curlloader/internal/results"
	"fortio.org/curlloader/internal/runctl"
	"fortio.org/curlloader/internal/transfer"
	"fortio.org/curlloader/metrics"
	"fortio.org/curlloader/version"
)

func helpArgsString() string {
	return "-f config.conf [flags...]\n" +
		"runs every BATCH_NAME block in the given configuration file concurrently,\n" +
		"one simulated-client population per batch, until every client finishes or ^C."
}

// Main is the curlloader binary's entry point: parse flags, load the batch
// file named by -f, and run every batch to completion.
func Main() {
	if fcli.ProgramName == "" {
		fcli.ProgramName = "curlloader"
	}
	fcli.ArgsHelp = helpArgsString()
	fcli.MinArgs = 0
	fcli.MaxArgs = 0
	scli.ServerMain() // parses flags, sets up logging, handles -version/-help.

	batches, err := bincommon.SharedMain()
	if err != nil {
		fcli.ErrUsage("Error: %v", err)
	}

	log.Infof("curlloader %s starting %d batch(es) from %s", version.Short(), len(batches), *bincommon.ConfigFileFlag)

	metricsServer := metrics.MaybeStart()
	if metricsServer != nil {
		defer metricsServer.Close()
	}

	aborter := runctl.NewAborter()
	stop := runctl.WatchSignals(aborter)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-aborter.StopChan
		cancel()
	}()

	var wg sync.WaitGroup
	batchErrs := make([]error, len(batches))
	for i, cfg := range batches {
		wg.Add(1)
		go func(i int, cfg *batch.Config) {
			defer wg.Done()
			batchErrs[i] = runBatch(ctx, cfg)
		}(i, cfg)
	}
	wg.Wait()

	failed := 0
	for i, err := range batchErrs {
		if err != nil {
			log.Errf("batch %s failed: %v", batches[i].Name, err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// runBatch drives one batch.Config from construction through engine.Loop
// completion, then writes its .txt/.ctx output files under -output-dir.
func runBatch(ctx context.Context, cfg *batch.Config) error {
	b, err := batch.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("building batch %s: %w", cfg.Name, err)
	}
	defer b.Close()

	tlsConfig, err := ftls.NewCredentials("", "", "", cfg.InsecureSSL)
	if err != nil {
		return fmt.Errorf("building TLS config for batch %s: %w", cfg.Name, err)
	}

	start := time.Now()
	info := results.NewRunInfo(cfg.Name, start)
	paths, err := results.PreparePaths(*bincommon.OutputDirFlag, info, len(b.Config.URLs))
	if err != nil {
		return err
	}
	txt, err := os.Create(paths.TextFile)
	if err != nil {
		return err
	}
	defer txt.Close()
	if err := results.WriteHeader(txt, info); err != nil {
		return err
	}

	multi := transfer.NewMulti(resolveWorkers(), tlsConfig, time.Duration(cfg.ConnectTimeoutMs)*time.Millisecond)
	loop := engine.NewLoop(b, multi, txt)
	defer multi.Close()

	if err := loop.Run(ctx); err != nil {
		return err
	}

	ctxFile, err := os.Create(paths.CtxFile)
	if err != nil {
		return err
	}
	defer ctxFile.Close()
	return results.WriteContextDump(ctxFile, b.Clients)
}

func resolveWorkers() int {
	n := *bincommon.WorkersFlag
	if n <= 0 {
		return 4
	}
	return n
}

