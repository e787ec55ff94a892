package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"metasift/config"
	"metasift/logger"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// logExporter mirrors the report to an OTLP/HTTP collector, one log record
// per report section. Paths and host identity stay local unless sharePaths
// opted in; digests and metadata trees always export.
type logExporter struct {
	provider   *sdklog.LoggerProvider
	logger     otelLog.Logger
	timeout    time.Duration
	endpoint   string
	sharePaths bool
}

func newLogExporter(cfg *config.Config) (*logExporter, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := pickEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("endpoint %q has no http or https scheme", endpoint)
	}

	exp, err := otlploghttp.New(context.Background(), clientOptions(cfg, endpoint)...)
	if err != nil {
		return nil, err
	}
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.OtelServiceName),
		)),
	)

	return &logExporter{
		provider:   provider,
		logger:     provider.Logger("metasift"),
		timeout:    cfg.OtelTimeout,
		endpoint:   endpoint,
		sharePaths: cfg.OtelExportPaths,
	}, nil
}

func clientOptions(cfg *config.Config, endpoint string) []otlploghttp.Option {
	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}
	return opts
}

// pickEndpoint prefers the configured endpoint over the standard OTLP
// environment variables, which are consulted only when opted in.
func pickEndpoint(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	candidates := []string{cfg.OtelEndpoint}
	if cfg.OtelFromEnv {
		candidates = append(candidates,
			os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT"),
			os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	for _, candidate := range candidates {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return candidate
		}
	}
	return ""
}

func (e *logExporter) Endpoint() string {
	if e == nil {
		return ""
	}
	return e.endpoint
}

// Emit exports one report section. Finding lines already carry base names
// only and export verbatim; structured payloads are redacted per record
// type before anything leaves the machine.
func (e *logExporter) Emit(recordType string, payload interface{}) {
	if e == nil || e.logger == nil {
		return
	}
	now := time.Now()

	var record otelLog.Record
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	record.SetEventName("metasift.record")
	record.AddAttributes(
		otelLog.String("record_type", recordType),
		otelLog.String("schema_version", SchemaVersion),
	)

	if line, ok := payload.(string); ok {
		record.SetBody(otelLog.StringValue(line))
		e.logger.Emit(context.Background(), record)
		return
	}

	f := e.redact(recordType, decodeFields(payload))
	record.AddAttributes(attrsFor(recordType, f)...)
	record.SetBody(bodyOf(f, payload))
	e.logger.Emit(context.Background(), record)
}

func (e *logExporter) Shutdown() {
	if e == nil || e.provider == nil {
		return
	}
	timeout := e.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTLP log exporter shutdown failed: %v", err)
	}
}

// redact drops the machine-identifying fields a record type carries. File
// records lose their path (the base name stays); host records lose
// hostname, user and working directory. Everything downstream, attributes
// and body alike, sees only the redacted view.
func (e *logExporter) redact(recordType string, f fields) fields {
	if f == nil || e.sharePaths {
		return f
	}
	switch recordType {
	case "file":
		return f.without("path")
	case "host_info":
		return f.without("hostname", "username", "working_dir")
	}
	return f
}

// bodyOf renders the record body: the decoded fields when the payload is
// structured, its raw JSON text otherwise.
func bodyOf(f fields, payload interface{}) otelLog.Value {
	if len(f) > 0 {
		return mapValue(f)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return otelLog.Value{}
	}
	return otelLog.StringValue(string(raw))
}

// fields is a decoded payload. The accessors tolerate both native Go
// values and the shapes a JSON round trip produces.
type fields map[string]interface{}

func decodeFields(payload interface{}) fields {
	switch v := payload.(type) {
	case nil, string:
		return nil
	case fields:
		return v
	case map[string]interface{}:
		return v
	case map[string]string:
		f := make(fields, len(v))
		for key, value := range v {
			f[key] = value
		}
		return f
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return f
}

func (f fields) str(key string) string {
	s, _ := f[key].(string)
	return s
}

// num reads a numeric field whether it was stored directly or arrived as
// a float64 from a JSON round trip.
func (f fields) num(key string) (int64, bool) {
	switch v := f[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func (f fields) strMap(key string) map[string]string {
	switch v := f[key].(type) {
	case map[string]string:
		return v
	case map[string]interface{}:
		out := make(map[string]string, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}

// without returns a copy lacking the named keys.
func (f fields) without(keys ...string) fields {
	out := make(fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func attrsFor(recordType string, f fields) []otelLog.KeyValue {
	if len(f) == 0 {
		return nil
	}
	switch recordType {
	case "file":
		return fileAttrs(f)
	case "host_info":
		return hostAttrs(f)
	case "metrics":
		return runAttrs(f)
	}
	return nil
}

// fileAttrs maps a file record onto semconv file attributes plus the
// metasift.file.* extras. Path attributes appear only when redaction kept
// the path in.
func fileAttrs(f fields) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	path := f.str("path")
	name := f.str("name")
	if name == "" && path != "" {
		name = filepath.Base(path)
	}
	if path != "" {
		kvs = append(kvs,
			otelLog.String(string(semconv.FilePathKey), path),
			otelLog.String(string(semconv.FileDirectoryKey), filepath.Dir(path)))
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			kvs = append(kvs, otelLog.String(string(semconv.FileExtensionKey), ext))
		}
	}
	kvs = stringAttr(kvs, string(semconv.FileNameKey), name)
	if size, ok := f.num("size"); ok {
		kvs = append(kvs, otelLog.Int64(string(semconv.FileSizeKey), size))
	}

	for _, field := range []string{"modified", "created", "created_source", "accessed"} {
		kvs = stringAttr(kvs, "metasift.file."+field, f.str(field))
	}

	kvs = digestAttrs(kvs, f, "hashes", "metasift.file.hash.")
	kvs = digestAttrs(kvs, f, "fuzzy_hashes", "metasift.file.fuzzy_hash.")

	if tree := f["metadata"]; tree != nil {
		if v := logValue(tree); v.Kind() != otelLog.KindEmpty {
			kvs = append(kvs, otelLog.KeyValue{Key: "metasift.file.metadata", Value: v})
		}
	}
	return kvs
}

// digestAttrs emits a digest map twice: as one map attribute and as flat
// per-algorithm attributes, algorithms in sorted order.
func digestAttrs(kvs []otelLog.KeyValue, f fields, field, prefix string) []otelLog.KeyValue {
	digests := f.strMap(field)
	if len(digests) == 0 {
		return kvs
	}
	kvs = append(kvs, otelLog.KeyValue{Key: "metasift.file." + field, Value: logValue(digests)})
	for _, algo := range sortedKeys(digests) {
		kvs = stringAttr(kvs, prefix+algo, digests[algo])
	}
	return kvs
}

func hostAttrs(f fields) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	if platform := f.str("platform"); platform != "" {
		description := platform
		if v := f.str("platform_version"); v != "" {
			description += " " + v
		}
		kvs = append(kvs, otelLog.String(string(semconv.OSDescriptionKey), description))
	}
	kvs = stringAttr(kvs, string(semconv.OSVersionKey), f.str("platform_version"))
	for _, field := range []string{"os", "architecture", "kernel_version"} {
		kvs = stringAttr(kvs, "metasift.host."+field, f.str(field))
	}
	for _, field := range []string{"cpu_count", "total_memory_bytes"} {
		if n, ok := f.num(field); ok && n > 0 {
			kvs = append(kvs, otelLog.Int64("metasift.host."+field, n))
		}
	}
	kvs = stringAttr(kvs, "metasift.host.hostname", f.str("hostname"))
	return kvs
}

func runAttrs(f fields) []otelLog.KeyValue {
	kvs := stringAttr(nil, "metasift.metrics.start_time", f.str("start_time"))
	kvs = stringAttr(kvs, "metasift.metrics.end_time", f.str("end_time"))
	for _, counter := range []string{"total_files", "files_analyzed", "anomalies", "logical_issues"} {
		if n, ok := f.num(counter); ok {
			kvs = append(kvs, otelLog.Int64("metasift.metrics."+counter, n))
		}
	}
	return kvs
}

func stringAttr(kvs []otelLog.KeyValue, key, value string) []otelLog.KeyValue {
	if value == "" {
		return kvs
	}
	return append(kvs, otelLog.String(key, value))
}

// logValue converts the payload shapes the report produces. Anything else
// reports the empty kind and the caller falls back to JSON text.
func logValue(value interface{}) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case []byte:
		return otelLog.BytesValue(v)
	case int:
		return otelLog.IntValue(v)
	case int64:
		return otelLog.Int64Value(v)
	case float32:
		return otelLog.Float64Value(float64(v))
	case float64:
		return otelLog.Float64Value(v)
	case fields:
		return mapValue(v)
	case map[string]interface{}:
		return mapValue(v)
	case map[string]string:
		f := make(fields, len(v))
		for key, item := range v {
			f[key] = item
		}
		return mapValue(f)
	case []string:
		items := make([]otelLog.Value, len(v))
		for i, s := range v {
			items[i] = otelLog.StringValue(s)
		}
		return otelLog.SliceValue(items...)
	case []interface{}:
		items := make([]otelLog.Value, len(v))
		for i, item := range v {
			items[i] = logValue(item)
		}
		return otelLog.SliceValue(items...)
	default:
		return otelLog.Value{}
	}
}

// mapValue renders fields with keys sorted so repeated exports of the same
// payload compare equal.
func mapValue(f fields) otelLog.Value {
	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	kvs := make([]otelLog.KeyValue, len(keys))
	for i, key := range keys {
		kvs[i] = otelLog.KeyValue{Key: key, Value: logValue(f[key])}
	}
	return otelLog.MapValue(kvs...)
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
