package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]interface{}
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestJSONFormatUsesCustomFieldNames(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&Config{Level: "debug", Format: "json", InstanceID: "instance-1"}, &buf)

	l.Info("model trained", Int("windows", 10))
	l.WithInstance("instance-7").Warn("slow")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "instance-1", lines[0]["instanceId"])
	assert.Equal(t, "info", lines[0]["loglevel"])
	assert.Equal(t, "model trained", lines[0]["logs"])
	assert.EqualValues(t, 10, lines[0]["windows"])
	assert.Equal(t, "instance-7", lines[1]["instanceId"])
	assert.Equal(t, "warn", lines[1]["loglevel"])
}

func TestWithKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&Config{Level: "info", Format: "json"}, &buf)

	l.With(String("path", "/train")).Error("failed", Error(errors.New("boom")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "/train", lines[0]["path"])
	assert.Equal(t, "boom", lines[0]["error"])
	assert.NotContains(t, lines[0], "instanceId")
}

type recordingSink struct {
	mu    sync.Mutex
	lines []string
	ids   []interface{}
}

func (s *recordingSink) Emit(_ context.Context, level, msg string, fields map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, level+":"+msg)
	s.ids = append(s.ids, fields["instanceId"])
}

func TestSinkReceivesDerivedLoggerLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&Config{Level: "info", Format: "json"}, &buf)
	sink := &recordingSink{}
	l.AddSink(sink)

	l.WithInstance("instance-2").Info("hello")

	assert.Equal(t, []string{"info:hello"}, sink.lines)
	assert.Equal(t, []interface{}{"instance-2"}, sink.ids)
}

func TestSinkHonorsConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&Config{Level: "error", Format: "json"}, &buf)
	sink := &recordingSink{}
	l.AddSink(sink)

	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line")
	l.Error("error line")

	assert.Equal(t, []string{"error:error line"}, sink.lines)
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "error line", lines[0]["logs"])
}

func TestWithInstanceKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&Config{Level: "info", Format: "json"}, &buf)
	sink := &fieldSink{}
	l.AddSink(sink)

	l.With(String("component", "pipeline")).WithInstance("instance-4").Info("ready")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "pipeline", lines[0]["component"])
	assert.Equal(t, "instance-4", lines[0]["instanceId"])
	assert.Equal(t, "pipeline", sink.fields["component"])
	assert.Equal(t, "instance-4", sink.fields["instanceId"])
}

type ctxKey struct{}

type fieldSink struct {
	ctx    context.Context
	fields map[string]interface{}
}

func (s *fieldSink) Emit(ctx context.Context, _, _ string, fields map[string]interface{}) {
	s.ctx = ctx
	s.fields = fields
}

func TestSinkReceivesLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&Config{Level: "info", Format: "json"}, &buf)
	sink := &fieldSink{}
	l.AddSink(sink)

	ctx := context.WithValue(context.Background(), ctxKey{}, "request-1")
	l.WithContext(ctx).WithInstance("instance-5").Warn("slow")

	require.NotNil(t, sink.ctx)
	assert.Equal(t, "request-1", sink.ctx.Value(ctxKey{}))

	l.Info("no request")
	assert.Nil(t, sink.ctx.Value(ctxKey{}))
}

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorDeduplicatesErrors(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&Config{Level: "info", Format: "json", InstanceID: "instance-1"}, &buf)
	pub := &capturePublisher{}
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("training failed", String("stage", "train_model"))
	}
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Equal(t, "logs", pub.topic)
	require.Len(t, pub.batches[0], 1)
	assert.Equal(t, 3, pub.batches[0][0].Count)
	assert.Equal(t, "instance-1", pub.batches[0][0].InstanceID)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}
