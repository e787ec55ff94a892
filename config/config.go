// Package config resolves the effective settings for one run. Precedence
// is defaults, then the JSON config file, then any flag given explicitly
// on the command line.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"metasift/detect"
	"metasift/fuzzy"
	"metasift/hasher"
	"metasift/version"
)

type Config struct {
	Paths               []string            `json:"paths"`
	OutputFileName      string              `json:"output_file_name"`
	OutputFormat        string              `json:"output_format"`
	MaxOutputFileSize   int64               `json:"max_output_file_size"`
	LogLevel            string              `json:"log_level"`
	ConfigFile          string              `json:"config_file"`
	DetectSteganography bool                `json:"detect_steganography"`
	HashAlgorithms      []string            `json:"hash_algorithms"`
	FuzzyHash           bool                `json:"fuzzy_hash"`
	FuzzyAlgorithms     []string            `json:"fuzzy_algorithms"`
	FuzzyMinSize        int64               `json:"fuzzy_min_size"`
	FuzzyMaxSize        int64               `json:"fuzzy_max_size"`
	IncludePatterns     []string            `json:"include_patterns"`
	ExcludePatterns     []string            `json:"exclude_patterns"`
	KeywordRules        map[string][]string `json:"keyword_rules"`
	MaxIOPerSecond      int                 `json:"max_io_per_second"`
	ContentReadMode     string              `json:"content_read_mode"`
	MaxContentBytes     int64               `json:"max_content_bytes"`
	StreamChunkSize     int                 `json:"stream_chunk_size"`
	MmapMinSize         int64               `json:"mmap_min_size"`
	CollectHostInfo     bool                `json:"collect_host_info"`
	CheckUpdates        bool                `json:"check_updates"`
	DiagStallThreshold  time.Duration       `json:"diag_stall_threshold"`
	DiagDir             string              `json:"diag_dir"`
	DiagGoroutineLeak   bool                `json:"diag_goroutine_leak"`
	OtelEndpoint        string              `json:"otel_endpoint"`
	OtelFromEnv         bool                `json:"otel_from_env"`
	OtelHeaders         map[string]string   `json:"otel_headers"`
	OtelServiceName     string              `json:"otel_service_name"`
	OtelTimeout         time.Duration       `json:"otel_timeout"`
	OtelExportPaths     bool                `json:"otel_export_paths"`
	TraceFlight         bool                `json:"trace_flight"`
	TraceFlightFile     string              `json:"trace_flight_file"`
	TraceFlightMaxBytes uint64              `json:"trace_flight_max_bytes"`
	TraceFlightMinAge   time.Duration       `json:"trace_flight_min_age"`
}

func defaultConfig(now time.Time) *Config {
	stamp := now.Format("20060102-150405")
	return &Config{
		Paths:               []string{},
		OutputFileName:      fmt.Sprintf("metasift-%s-%d.json", stamp, now.Unix()),
		OutputFormat:        "json",
		MaxOutputFileSize:   104857600,
		LogLevel:            "info",
		DetectSteganography: false,
		HashAlgorithms:      []string{"sha256"},
		FuzzyAlgorithms:     []string{},
		FuzzyMinSize:        256,
		FuzzyMaxSize:        20 * 1024 * 1024,
		IncludePatterns:     []string{},
		ExcludePatterns:     []string{},
		KeywordRules:        map[string][]string{},
		MaxIOPerSecond:      0,
		ContentReadMode:     "auto",
		MaxContentBytes:     10 * 1024 * 1024,
		StreamChunkSize:     256 * 1024,
		MmapMinSize:         128 * 1024,
		CollectHostInfo:     true,
		CheckUpdates:        false,
		DiagStallThreshold:  0,
		DiagDir:             ".",
		DiagGoroutineLeak:   false,
		OtelEndpoint:        "",
		OtelFromEnv:         false,
		OtelHeaders:         map[string]string{},
		OtelServiceName:     "metasift",
		OtelTimeout:         5 * time.Second,
		OtelExportPaths:     false,
		TraceFlight:         false,
		TraceFlightFile:     "trace-flight.out",
		TraceFlightMaxBytes: 0,
		TraceFlightMinAge:   0,
	}
}

func LoadConfig() (*Config, error) {
	cfg := defaultConfig(time.Now().UTC())

	paths := flag.String("path", "", "Comma-separated list of files or directories to analyze (default: none; positional arguments work too).")
	output := flag.String("output", cfg.OutputFileName, "Report file name (default: metasift-<timestamp>-<unix>.json).")
	format := flag.String("format", cfg.OutputFormat, fmt.Sprintf("Report format: json (default: %s).", cfg.OutputFormat))
	maxOutputFileSize := flag.Int64("max-output-file-size", cfg.MaxOutputFileSize, fmt.Sprintf("Maximum report file size before rotation in bytes (default: %d).", cfg.MaxOutputFileSize))
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Minimum log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	configFile := flag.String("config", "", "JSON configuration file to load before flags (default: none).")
	steg := flag.Bool("steg", cfg.DetectSteganography, fmt.Sprintf("Run steganography probes on image files (default: %t).", cfg.DetectSteganography))
	hashes := flag.String("hashes", strings.Join(cfg.HashAlgorithms, ","), fmt.Sprintf("Comma-separated list of digest algorithms, or 'none' (default: %s).", strings.Join(cfg.HashAlgorithms, ",")))
	fuzzyHash := flag.Bool("fuzzy-hash", cfg.FuzzyHash, fmt.Sprintf("Compute similarity digests for eligible files (default: %t).", cfg.FuzzyHash))
	fuzzyAlgorithms := flag.String("fuzzy-algorithms", strings.Join(cfg.FuzzyAlgorithms, ","), "Comma-separated fuzzy hash algorithms; implies -fuzzy-hash (default: tlsh when enabled).")
	fuzzyMinSize := flag.Int64("fuzzy-min-size", cfg.FuzzyMinSize, fmt.Sprintf("Smallest file in bytes eligible for fuzzy hashing (default: %d).", cfg.FuzzyMinSize))
	fuzzyMaxSize := flag.Int64("fuzzy-max-size", cfg.FuzzyMaxSize, fmt.Sprintf("Largest file in bytes eligible for fuzzy hashing (default: %d).", cfg.FuzzyMaxSize))
	includes := flag.String("include", "", "Comma-separated include patterns, each a glob or a regular expression (default: none).")
	excludes := flag.String("exclude", "", "Comma-separated exclude patterns; a match is skipped even when included (default: none).")
	keywordRules := flag.String("keyword-rules", "", "Keyword rule overrides as a JSON object mapping rule names to term lists (default: built-in rules).")
	maxIO := flag.Int("max-io-per-second", cfg.MaxIOPerSecond, "Maximum file dispatches per second (default: 0/unthrottled).")
	contentReadMode := flag.String("content-read-mode", cfg.ContentReadMode, "Content read mode for byte-level probes: auto, stream, or mmap (default: auto).")
	maxContentBytes := flag.Int64("max-content-bytes", cfg.MaxContentBytes, fmt.Sprintf("Maximum bytes the byte-level probes read per file (default: %d).", cfg.MaxContentBytes))
	streamChunkSize := flag.Int("stream-chunk-size", cfg.StreamChunkSize, "Chunk size in bytes for streamed content reads (default: 262144).")
	mmapMinSize := flag.Int64("mmap-min-size", cfg.MmapMinSize, "Minimum file size in bytes for the mmap content read path (default: 131072).")
	collectHostInfo := flag.Bool("collect-host-info", cfg.CollectHostInfo, fmt.Sprintf("Record host context in the report header (default: %t).", cfg.CollectHostInfo))
	checkUpdates := flag.Bool("check-updates", cfg.CheckUpdates, fmt.Sprintf("Check for a newer release at startup (default: %t).", cfg.CheckUpdates))
	diagStallThreshold := flag.Duration(
		"diag-stall-threshold",
		cfg.DiagStallThreshold,
		"If positive, emit diagnostics when per-file progress stalls for this duration (default: 0/off).",
	)
	diagDir := flag.String("diag-dir", cfg.DiagDir, "Directory that receives diagnostics artifacts (default: current directory).")
	diagGoroutineLeak := flag.Bool(
		"diag-goroutine-leak",
		cfg.DiagGoroutineLeak,
		"Dump a goroutine profile at shutdown to spot leaks (default: false).",
	)
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP endpoint for log export (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Fall back to OTEL_EXPORTER_* environment variables for the endpoint (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Extra OTLP headers as comma-separated key=value pairs (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, "Service name attached to exported logs (default: metasift).")
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "Timeout for each OTLP export (default: 5s).")
	otelExportPaths := flag.Bool("otel-export-paths", cfg.OtelExportPaths, "Include raw file paths in OTEL payloads (default: false).")
	traceFlight := flag.Bool("trace-flight", cfg.TraceFlight, fmt.Sprintf("Capture a runtime flight recording for post-mortem tracing (default: %t).", cfg.TraceFlight))
	traceFlightFile := flag.String("trace-flight-file", cfg.TraceFlightFile, fmt.Sprintf("File that receives the flight recording (default: %s).", cfg.TraceFlightFile))
	traceFlightMaxBytes := flag.Uint64("trace-flight-max-bytes", cfg.TraceFlightMaxBytes, "Flight recorder buffer cap in bytes; 0 keeps the runtime default.")
	traceFlightMinAge := flag.Duration("trace-flight-min-age", cfg.TraceFlightMinAge, "Minimum event age the flight recorder retains (default: 0).")
	showVersion := flag.Bool("version", false, "Print the version and exit.")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("metasift version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "path":
			cfg.Paths = parseCommaSeparated(*paths)
		case "output":
			cfg.OutputFileName = *output
		case "format":
			cfg.OutputFormat = strings.ToLower(*format)
		case "max-output-file-size":
			cfg.MaxOutputFileSize = *maxOutputFileSize
		case "log-level":
			cfg.LogLevel = *logLevel
		case "steg":
			cfg.DetectSteganography = *steg
		case "hashes":
			cfg.HashAlgorithms = parseCommaSeparated(*hashes)
		case "fuzzy-hash":
			cfg.FuzzyHash = *fuzzyHash
		case "fuzzy-algorithms":
			cfg.FuzzyAlgorithms = parseCommaSeparated(*fuzzyAlgorithms)
		case "fuzzy-min-size":
			cfg.FuzzyMinSize = *fuzzyMinSize
		case "fuzzy-max-size":
			cfg.FuzzyMaxSize = *fuzzyMaxSize
		case "include":
			cfg.IncludePatterns = parseCommaSeparated(*includes)
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*excludes)
		case "keyword-rules":
			cfg.KeywordRules = parseKeywordRules(*keywordRules)
		case "max-io-per-second":
			cfg.MaxIOPerSecond = *maxIO
		case "content-read-mode":
			cfg.ContentReadMode = strings.ToLower(strings.TrimSpace(*contentReadMode))
		case "max-content-bytes":
			cfg.MaxContentBytes = *maxContentBytes
		case "stream-chunk-size":
			cfg.StreamChunkSize = *streamChunkSize
		case "mmap-min-size":
			cfg.MmapMinSize = *mmapMinSize
		case "collect-host-info":
			cfg.CollectHostInfo = *collectHostInfo
		case "check-updates":
			cfg.CheckUpdates = *checkUpdates
		case "diag-stall-threshold":
			cfg.DiagStallThreshold = *diagStallThreshold
		case "diag-dir":
			cfg.DiagDir = strings.TrimSpace(*diagDir)
		case "diag-goroutine-leak":
			cfg.DiagGoroutineLeak = *diagGoroutineLeak
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "otel-export-paths":
			cfg.OtelExportPaths = *otelExportPaths
		case "trace-flight":
			cfg.TraceFlight = *traceFlight
		case "trace-flight-file":
			cfg.TraceFlightFile = *traceFlightFile
		case "trace-flight-max-bytes":
			cfg.TraceFlightMaxBytes = *traceFlightMaxBytes
		case "trace-flight-min-age":
			cfg.TraceFlightMinAge = *traceFlightMinAge
		}
	})

	// Positional arguments are analysis targets too, appended after any
	// -path values so both spellings work together.
	for _, arg := range flag.Args() {
		if strings.TrimSpace(arg) != "" {
			cfg.Paths = append(cfg.Paths, arg)
		}
	}

	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.OutputFormat = strings.ToLower(strings.TrimSpace(cfg.OutputFormat))
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "json"
	}
	cfg.ContentReadMode = strings.ToLower(strings.TrimSpace(cfg.ContentReadMode))
	if cfg.ContentReadMode == "" {
		cfg.ContentReadMode = "auto"
	}
	if cfg.StreamChunkSize <= 0 {
		cfg.StreamChunkSize = 256 * 1024
	}
	if cfg.MmapMinSize <= 0 {
		cfg.MmapMinSize = 128 * 1024
	}
	if cfg.DiagDir == "" {
		cfg.DiagDir = "."
	}

	cfg.HashAlgorithms = normalizeAlgorithms(cfg.HashAlgorithms)
	if len(cfg.HashAlgorithms) == 1 && (cfg.HashAlgorithms[0] == "none" || cfg.HashAlgorithms[0] == "off") {
		cfg.HashAlgorithms = []string{}
	}
	cfg.FuzzyAlgorithms = normalizeAlgorithms(cfg.FuzzyAlgorithms)
	if cfg.FuzzyHash && len(cfg.FuzzyAlgorithms) == 0 {
		cfg.FuzzyAlgorithms = []string{"tlsh"}
	}
	if len(cfg.FuzzyAlgorithms) > 0 {
		cfg.FuzzyHash = true
	}
	if cfg.FuzzyMaxSize > 0 && cfg.FuzzyMaxSize < cfg.FuzzyMinSize {
		cfg.FuzzyMaxSize = cfg.FuzzyMinSize
	}
	if cfg.TraceFlight && cfg.TraceFlightFile == "" {
		cfg.TraceFlightFile = "trace-flight.out"
	}
}

func displayHelp() {
	fmt.Println("metasift - File Metadata Analyzer")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  metasift [options] [file|directory ...]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  metasift photo.jpg report.pdf")
	fmt.Println("  metasift --steg --path \"/evidence/images\"")
	fmt.Println("  metasift --hashes md5,sha256 --fuzzy-hash /evidence")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %v", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %v", path, err)
	}
	return nil
}

func (cfg *Config) validate() error {
	if len(cfg.Paths) == 0 {
		return fmt.Errorf("at least one file or directory to analyze must be given")
	}
	if cfg.OutputFormat != "json" {
		return fmt.Errorf("invalid output format: %s (only json is supported)", cfg.OutputFormat)
	}
	if strings.TrimSpace(cfg.OutputFileName) == "" {
		return fmt.Errorf("output file name must not be empty")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	switch cfg.ContentReadMode {
	case "auto", "stream", "mmap":
	default:
		return fmt.Errorf("invalid content-read-mode value: %s", cfg.ContentReadMode)
	}
	if cfg.StreamChunkSize <= 0 {
		return fmt.Errorf("stream-chunk-size must be positive")
	}
	for _, algo := range cfg.HashAlgorithms {
		if !hasher.Supported(algo) {
			return fmt.Errorf("unsupported hash algorithm: %s (supported: %s)",
				algo, strings.Join(hasher.SupportedAlgorithms(), ", "))
		}
	}
	for _, algo := range cfg.FuzzyAlgorithms {
		if _, ok := fuzzy.Lookup(algo); !ok {
			return fmt.Errorf("unsupported fuzzy hash algorithm: %s (supported: %s)",
				algo, strings.Join(fuzzy.Available(), ", "))
		}
	}
	for name := range cfg.KeywordRules {
		if !detect.KnownRuleName(name) {
			return fmt.Errorf("unknown keyword rule: %s (known: %s)",
				name, strings.Join(detect.RuleNames(), ", "))
		}
	}
	for _, limit := range []struct {
		flag  string
		value int64
	}{
		{"fuzzy-min-size", cfg.FuzzyMinSize},
		{"fuzzy-max-size", cfg.FuzzyMaxSize},
		{"max-content-bytes", cfg.MaxContentBytes},
		{"mmap-min-size", cfg.MmapMinSize},
		{"max-io-per-second", int64(cfg.MaxIOPerSecond)},
		{"max-output-file-size", cfg.MaxOutputFileSize},
		{"diag-stall-threshold", int64(cfg.DiagStallThreshold)},
		{"trace-flight-min-age", int64(cfg.TraceFlightMinAge)},
		{"otel-timeout", int64(cfg.OtelTimeout)},
	} {
		if limit.value < 0 {
			return fmt.Errorf("%s must be zero or positive", limit.flag)
		}
	}
	if cfg.OtelEndpoint != "" &&
		!strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
		return fmt.Errorf("otel-endpoint must include scheme (http or https)")
	}
	return nil
}

// Heuristics builds the keyword rule set for this run.
func (cfg *Config) Heuristics() *detect.Heuristics {
	if len(cfg.KeywordRules) == 0 {
		return detect.DefaultHeuristics()
	}
	return detect.HeuristicsFromRules(cfg.KeywordRules)
}

func parseCommaSeparated(input string) []string {
	out := []string{}
	for _, item := range strings.Split(input, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseKeywordRules(input string) map[string][]string {
	rules := make(map[string][]string)
	if input == "" {
		return rules
	}
	if err := json.Unmarshal([]byte(input), &rules); err != nil {
		fmt.Fprintf(os.Stderr, "invalid keyword rules: %v\n", err)
		return map[string][]string{}
	}
	return rules
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	for _, item := range strings.Split(input, ",") {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}

func normalizeAlgorithms(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}
