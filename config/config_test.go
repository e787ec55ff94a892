package config

import (
	"flag"
	"os"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Paths:           []string{"/evidence"},
		OutputFileName:  "report.json",
		OutputFormat:    "json",
		LogLevel:        "info",
		ContentReadMode: "auto",
		StreamChunkSize: 256 * 1024,
		OtelTimeout:     5 * time.Second,
	}
}

func resetFlags(t *testing.T, args ...string) {
	t.Helper()
	oldArgs := os.Args
	oldFlag := flag.CommandLine
	t.Cleanup(func() {
		os.Args = oldArgs
		flag.CommandLine = oldFlag
	})
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	os.Args = append([]string{"cmd"}, args...)
}

func TestParseCommaSeparated(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b , c", []string{"a", "b", "c"}},
		{"", []string{}},
		{"a,,b", []string{"a", "b"}},
	}
	for _, tc := range cases {
		got := parseCommaSeparated(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("parseCommaSeparated(%q) = %v, want %v", tc.in, got, tc.want)
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("parseCommaSeparated(%q) = %v, want %v", tc.in, got, tc.want)
			}
		}
	}
}

func TestParseKeywordRules(t *testing.T) {
	res := parseKeywordRules(`{"pdf_producers":["ilovepdf","freepdf"]}`)
	if len(res["pdf_producers"]) != 2 || res["pdf_producers"][0] != "ilovepdf" {
		t.Fatalf("unexpected result: %v", res)
	}
	if res := parseKeywordRules(""); len(res) != 0 {
		t.Fatalf("expected empty map")
	}
	if res := parseKeywordRules("not json"); len(res) != 0 {
		t.Fatalf("expected empty map for invalid input")
	}
}

func TestParseHeaders(t *testing.T) {
	res := parseHeaders("Authorization=Bearer x, Env=prod,bad-item")
	if res["Authorization"] != "Bearer x" || res["Env"] != "prod" {
		t.Fatalf("unexpected headers: %v", res)
	}
	if len(res) != 2 {
		t.Fatalf("malformed item kept: %v", res)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "cfg*.json")
	if err != nil {
		t.Fatalf("temp: %v", err)
	}
	tmp.WriteString(`{"paths":["/evidence"],"detect_steganography":true,"hash_algorithms":["md5"]}`)
	tmp.Close()

	cfg := &Config{}
	if err := cfg.loadFromFile(tmp.Name()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Paths) != 1 || cfg.Paths[0] != "/evidence" {
		t.Fatalf("unexpected paths: %v", cfg.Paths)
	}
	if !cfg.DetectSteganography {
		t.Fatal("expected steganography enabled from file")
	}
	if len(cfg.HashAlgorithms) != 1 || cfg.HashAlgorithms[0] != "md5" {
		t.Fatalf("unexpected hash algorithms: %v", cfg.HashAlgorithms)
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no paths", func(c *Config) { c.Paths = nil }},
		{"unknown format", func(c *Config) { c.OutputFormat = "xml" }},
		{"bad log level", func(c *Config) { c.LogLevel = "bad" }},
		{"unsupported hash", func(c *Config) { c.HashAlgorithms = []string{"crc32"} }},
		{"unsupported fuzzy algorithm", func(c *Config) { c.FuzzyAlgorithms = []string{"ssdeep"} }},
		{"unknown keyword rule", func(c *Config) { c.KeywordRules = map[string][]string{"bogus_rule": {"x"}} }},
		{"bad content read mode", func(c *Config) { c.ContentReadMode = "direct" }},
		{"negative fuzzy floor", func(c *Config) { c.FuzzyMinSize = -1 }},
		{"schemeless otel endpoint", func(c *Config) { c.OtelEndpoint = "otel.example.com" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfigPositionalArgs(t *testing.T) {
	resetFlags(t, "--path", "/evidence/images", "report.pdf", "photo.jpg")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"/evidence/images", "report.pdf", "photo.jpg"}
	if len(cfg.Paths) != len(want) {
		t.Fatalf("unexpected paths: %v", cfg.Paths)
	}
	for i := range want {
		if cfg.Paths[i] != want[i] {
			t.Fatalf("unexpected paths: %v", cfg.Paths)
		}
	}
}

func TestFuzzyHashFlagDefaultsAlgorithm(t *testing.T) {
	resetFlags(t, "--fuzzy-hash", "/evidence")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.FuzzyHash {
		t.Fatal("expected fuzzy hash enabled")
	}
	if len(cfg.FuzzyAlgorithms) == 0 || cfg.FuzzyAlgorithms[0] != "tlsh" {
		t.Fatalf("expected tlsh default, got %v", cfg.FuzzyAlgorithms)
	}
}

func TestHashesNoneDisablesDigests(t *testing.T) {
	resetFlags(t, "--hashes", "none", "/evidence")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.HashAlgorithms) != 0 {
		t.Fatalf("expected hashing disabled, got %v", cfg.HashAlgorithms)
	}
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "cfg*.json")
	if err != nil {
		t.Fatalf("temp: %v", err)
	}
	tmp.WriteString(`{"paths":["/from-file"],"detect_steganography":true,"log_level":"debug"}`)
	tmp.Close()

	resetFlags(t, "--config", tmp.Name(), "--log-level", "warn")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Paths) != 1 || cfg.Paths[0] != "/from-file" {
		t.Fatalf("config file paths lost: %v", cfg.Paths)
	}
	if !cfg.DetectSteganography {
		t.Fatal("config file steganography setting lost")
	}
	// The explicit flag outranks the file.
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected flag to override file, got %s", cfg.LogLevel)
	}
}

func TestOtelFlags(t *testing.T) {
	resetFlags(t,
		"--otel-endpoint", "https://otel.example.com/v1/logs",
		"--otel-export-paths",
		"--otel-headers", "Authorization=Bearer test,Env=prod",
		"--otel-service-name", "metasift-lab",
		"--otel-timeout", "10s",
		"/evidence",
	)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OtelEndpoint != "https://otel.example.com/v1/logs" {
		t.Fatalf("OtelEndpoint = %q", cfg.OtelEndpoint)
	}
	if cfg.OtelServiceName != "metasift-lab" {
		t.Fatalf("OtelServiceName = %q", cfg.OtelServiceName)
	}
	if cfg.OtelTimeout != 10*time.Second {
		t.Fatalf("OtelTimeout = %v", cfg.OtelTimeout)
	}
	if !cfg.OtelExportPaths {
		t.Fatal("expected otel path export enabled")
	}
	if cfg.OtelHeaders["Authorization"] != "Bearer test" || cfg.OtelHeaders["Env"] != "prod" {
		t.Fatalf("OtelHeaders = %v", cfg.OtelHeaders)
	}
}

func TestKeywordRulesFlag(t *testing.T) {
	resetFlags(t, "--keyword-rules", `{"pdf_producers":["ilovepdf"]}`, "/evidence")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	heur := cfg.Heuristics()
	if !heur.PDFProducers.Match("Made with iLovePDF 3.1") {
		t.Fatal("override term not matched")
	}
	if heur.PDFProducers.Match("keygen studio") {
		t.Fatal("default term survived override")
	}
	// Untouched rules keep their defaults.
	if !heur.PDFCreators.Match("Adobe Photoshop 24") {
		t.Fatal("default pdf_creators rule lost")
	}
}

func TestTraceFlightFlags(t *testing.T) {
	resetFlags(t,
		"--trace-flight",
		"--trace-flight-file", "trace.out",
		"--trace-flight-max-bytes", "2048",
		"--trace-flight-min-age", "5s",
		"/evidence",
	)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TraceFlight {
		t.Fatal("expected flight recorder enabled")
	}
	if cfg.TraceFlightFile != "trace.out" || cfg.TraceFlightMaxBytes != 2048 || cfg.TraceFlightMinAge != 5*time.Second {
		t.Fatalf("flight recorder settings: file=%q max=%d age=%v",
			cfg.TraceFlightFile, cfg.TraceFlightMaxBytes, cfg.TraceFlightMinAge)
	}
}

func TestLoadConfigRequiresPaths(t *testing.T) {
	resetFlags(t)
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when no paths are given")
	}
}
