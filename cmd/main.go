package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"metasift/config"
	"metasift/diag"
	"metasift/engine"
	"metasift/logger"
	"metasift/output"
	"metasift/systeminfo"
	"metasift/tracing"
	"metasift/update"
	"metasift/utils"
	"metasift/version"
)

func main() {
	if err := tracing.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start trace: %v\n", err)
	} else {
		defer tracing.Stop()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)

	if cfg.TraceFlight {
		if err := tracing.StartFlightRecorder(cfg.TraceFlightMaxBytes, cfg.TraceFlightMinAge); err != nil {
			logger.Warnf("Failed to start flight recorder: %v", err)
		} else {
			defer func() {
				if err := tracing.WriteFlightRecorder(cfg.TraceFlightFile); err != nil {
					logger.Warnf("Failed to write flight recorder: %v", err)
				}
				tracing.StopFlightRecorder()
			}()
		}
	}

	if cfg.CheckUpdates {
		if latest, notes, newer, err := update.CheckForUpdate(version.Version); err == nil && newer {
			if strings.Contains(strings.ToLower(notes), "security") {
				logger.Warnf("Update available: %s -> %s (security fixes included)", version.Version, latest)
			} else {
				logger.Infof("Update available: %s -> %s", version.Version, latest)
			}
		}
	}

	startTime := time.Now()
	metrics := output.Metrics{
		StartTime: startTime.UTC().Format(time.RFC3339),
	}

	var host *systeminfo.HostInfo
	if cfg.CollectHostInfo {
		host = systeminfo.Collect()
	}

	writer, err := output.New(cfg, host, &metrics)
	if err != nil {
		logger.Fatalf("Failed to initialize report output: %v", err)
	}
	defer writer.Close()

	if utils.IsPathWithin(cfg.OutputFileName, cfg.Paths) {
		logger.Warnf("Report file %s is inside an analyzed path; it will show up in its own report.", cfg.OutputFileName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleSignals(cancel, &metrics, writer, cfg.TraceFlight, cfg.TraceFlightFile)

	// currentFile tracks the path in flight for the stall watchdog.
	var currentFile atomic.Value
	currentFile.Store("")
	var totalFiles atomic.Int64

	watchdog := diag.NewController(diag.Options{
		StallThreshold:  cfg.DiagStallThreshold,
		Dir:             cfg.DiagDir,
		GoroutineLeak:   cfg.DiagGoroutineLeak,
		AnalyzedCountFn: writer.FilesAnalyzed,
		CurrentFileFn: func() string {
			file, _ := currentFile.Load().(string)
			return file
		},
		DumpFlightRecorder: flightDumpFn(cfg),
	})
	watchdog.Start(ctx)
	defer watchdog.Close()

	result, err := engine.AnalyzeBatch(ctx, cfg.Paths, engine.Options{
		DetectSteganography: cfg.DetectSteganography,
		DigestAlgorithms:    cfg.HashAlgorithms,
		FuzzyAlgorithms:     fuzzyAlgorithms(cfg),
		FuzzyMinSize:        cfg.FuzzyMinSize,
		FuzzyMaxSize:        cfg.FuzzyMaxSize,
		IncludePatterns:     cfg.IncludePatterns,
		ExcludePatterns:     cfg.ExcludePatterns,
		ReadMode:            cfg.ContentReadMode,
		MaxContentBytes:     cfg.MaxContentBytes,
		MmapMinSize:         cfg.MmapMinSize,
		StreamChunkSize:     cfg.StreamChunkSize,
		MaxIOPerSecond:      cfg.MaxIOPerSecond,
		Heuristics:          cfg.Heuristics(),
		FileStarted: func(path string) {
			currentFile.Store(path)
		},
		Progress: func(done, total int, path string) {
			totalFiles.Store(int64(total))
		},
		Records: writer,
	})
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			logger.Warn("Analysis interrupted before completion.")
		case errors.Is(err, engine.ErrNoFiles):
			// Fatal exits without running defers; close the report first
			// so the document on disk is complete.
			writer.Close()
			logger.Fatal("No files matched the given paths and patterns.")
		default:
			logger.Fatalf("Analysis failed: %v", err)
		}
	}

	if result != nil {
		writer.SetFindings(result.Anomalies, result.LogicalIssues)
	}
	metrics.EndTime = time.Now().UTC().Format(time.RFC3339)
	metrics.TotalFiles = int(totalFiles.Load())
	writer.SetMetrics(metrics)

	logger.Info("Analysis completed successfully.")
}

// fuzzyAlgorithms returns the similarity digests to compute, or nil when
// fuzzy hashing is off.
func fuzzyAlgorithms(cfg *config.Config) []string {
	if !cfg.FuzzyHash {
		return nil
	}
	return cfg.FuzzyAlgorithms
}

// flightDumpFn gives the watchdog a flight recorder dump hook when the
// recorder is enabled.
func flightDumpFn(cfg *config.Config) func(path string) error {
	if !cfg.TraceFlight {
		return nil
	}
	return tracing.WriteFlightRecorder
}

func handleSignals(cancelFunc context.CancelFunc, metrics *output.Metrics, w *output.Writer, traceFlight bool, traceFlightFile string) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	handleSignalEvent(cancelFunc, metrics, w, traceFlight, traceFlightFile, sigChan)
}

// handleSignalEvent waits for one signal, stamps the end time, flushes the
// metrics footer, and cancels the batch. The channel is injected so tests
// can deliver the signal directly.
func handleSignalEvent(cancelFunc context.CancelFunc, metrics *output.Metrics, w *output.Writer, traceFlight bool, traceFlightFile string, sigChan chan os.Signal) {
	<-sigChan
	logger.Info("Interrupt signal received. Shutting down...")

	metrics.EndTime = time.Now().UTC().Format(time.RFC3339)
	w.SetMetrics(*metrics)

	if traceFlight {
		if err := tracing.WriteFlightRecorder(traceFlightFile); err != nil {
			logger.Warnf("Failed to write flight recorder: %v", err)
		}
		tracing.StopFlightRecorder()
	}

	cancelFunc()
}
