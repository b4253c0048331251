package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mode controls the handler style used when constructing a logger.
type Mode int

const (
	// ModeCLI renders records as terse single lines for terminals.
	ModeCLI Mode = iota
	// ModeJSON renders records as JSON objects.
	ModeJSON
)

// StageKey is the attribute key the pipeline uses to tag records with the
// stage that produced them. The CLI handler renders it ahead of the message.
const StageKey = "stage"

// New constructs a logger targeting w using the requested mode.
// If level is nil, slog.LevelInfo is used.
func New(mode Mode, w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		panic("logging: writer must not be nil")
	}
	if level == nil {
		level = slog.LevelInfo
	}

	if mode == ModeJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&cliHandler{shared: &sharedWriter{w: w}, level: level})
}

// NewCLI constructs a logger that emits human-readable records.
func NewCLI(w io.Writer, level slog.Leveler) *slog.Logger {
	return New(ModeCLI, w, level)
}

// NewJSON constructs a logger that emits structured JSON records.
func NewJSON(w io.Writer, level slog.Leveler) *slog.Logger {
	return New(ModeJSON, w, level)
}

// Ensure returns the provided logger or the process default if nil.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// ParseLevel maps a user supplied level name onto a slog.Level.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}

// ParseMode maps "text"/"cli" and "json" onto a Mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "text", "cli":
		return ModeCLI, nil
	case "json":
		return ModeJSON, nil
	default:
		return ModeCLI, fmt.Errorf("unknown log format %q", value)
	}
}

type sharedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sharedWriter) write(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, line)
	return err
}

type cliHandler struct {
	shared *sharedWriter
	level  slog.Leveler
	stage  string
	attrs  []slog.Attr
	groups []string
}

func (h *cliHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *cliHandler) Handle(_ context.Context, record slog.Record) error {
	timestamp := record.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	stage := h.stage
	var tail strings.Builder
	for _, attr := range h.attrs {
		appendAttr(&tail, nil, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		if len(h.groups) == 0 && attr.Key == StageKey {
			stage = attr.Value.String()
			return true
		}
		appendAttr(&tail, h.groups, attr)
		return true
	})

	var line strings.Builder
	line.WriteString(fmt.Sprintf("%-5s", strings.ToUpper(record.Level.String())))
	line.WriteByte(' ')
	line.WriteString(timestamp.UTC().Format(time.RFC3339))
	line.WriteString(" | ")
	if stage != "" {
		line.WriteString("[" + stage + "] ")
	}
	line.WriteString(record.Message)
	line.WriteString(tail.String())
	line.WriteByte('\n')

	return h.shared.write(line.String())
}

func (h *cliHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, attr := range attrs {
		if len(h.groups) == 0 && attr.Key == StageKey {
			next.stage = attr.Value.String()
			continue
		}
		if len(h.groups) > 0 {
			attr = slog.Attr{Key: strings.Join(append(append([]string(nil), h.groups...), attr.Key), "."), Value: attr.Value}
		}
		next.attrs = append(next.attrs, attr)
	}
	return next
}

func (h *cliHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.groups = append(next.groups, name)
	return next
}

func (h *cliHandler) clone() *cliHandler {
	return &cliHandler{
		shared: h.shared,
		level:  h.level,
		stage:  h.stage,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		groups: append([]string(nil), h.groups...),
	}
}

func appendAttr(b *strings.Builder, groups []string, attr slog.Attr) {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		nested := append(append([]string(nil), groups...), attr.Key)
		for _, inner := range value.Group() {
			appendAttr(b, nested, inner)
		}
		return
	}
	if attr.Key == "" {
		return
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(append(append([]string(nil), groups...), key), ".")
	}

	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(formatValue(value))
}

func formatValue(value slog.Value) string {
	switch value.Kind() {
	case slog.KindString:
		s := value.String()
		if strings.ContainsAny(s, " \t\"") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindInt64:
		return strconv.FormatInt(value.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(value.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(value.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(value.Bool())
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := value.Any().(error); ok && err != nil {
			return strconv.Quote(err.Error())
		}
		return fmt.Sprint(value.Any())
	default:
		return value.String()
	}
}
