package trace

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileExporter_BasicExport(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	record := &TraceRecord{
		Timestamp:   time.Date(2026, 1, 14, 10, 30, 0, 0, time.UTC),
		OperationID: "test-op-1",
		Operation:   "rank",
		DurationMs:  12,
		Status:      "success",
		Spans: []SpanRecord{
			{Name: "build", DurationMs: 2, OK: true, Counters: map[string]int64{"nodes": 4, "edges": 4}},
			{Name: "compute", DurationMs: 10, OK: true, Counters: map[string]int64{"iterations": 23}},
		},
	}

	if err := exporter.Export(context.Background(), record); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Read trace file failed: %v", err)
	}

	var readRecord TraceRecord
	if err := json.Unmarshal(data, &readRecord); err != nil {
		t.Fatalf("Unmarshal trace record failed: %v", err)
	}

	if readRecord.OperationID != "test-op-1" {
		t.Errorf("Expected operationId 'test-op-1', got '%s'", readRecord.OperationID)
	}
	if readRecord.Operation != "rank" {
		t.Errorf("Expected operation 'rank', got '%s'", readRecord.Operation)
	}
	if len(readRecord.Spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(readRecord.Spans))
	}
	if readRecord.Spans[1].Counters["iterations"] != 23 {
		t.Errorf("Expected iterations counter 23, got %v", readRecord.Spans[1].Counters)
	}
}

func TestNewFileExporter_EmptyPathIsNoop(t *testing.T) {
	exporter, err := NewFileExporter("")
	if err != nil {
		t.Fatalf("NewFileExporter(\"\") failed: %v", err)
	}
	if _, ok := exporter.(*NoopExporter); !ok {
		t.Fatalf("Expected *NoopExporter, got %T", exporter)
	}

	record := &TraceRecord{Timestamp: time.Now(), OperationID: "noop-op", Operation: "append", Status: "success"}
	if err := exporter.Export(context.Background(), record); err != nil {
		t.Fatalf("Export on noop exporter should succeed, got: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close on noop exporter should succeed, got: %v", err)
	}
}

func TestFileExporter_MultipleRecords(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		record := &TraceRecord{
			Timestamp:   time.Now(),
			OperationID: "op-" + string(rune('0'+i)),
			Operation:   "append",
			DurationMs:  int64(i),
			Status:      "success",
		}
		if err := exporter.Export(context.Background(), record); err != nil {
			t.Fatalf("Export %d failed: %v", i, err)
		}
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	file, err := os.Open(tracePath)
	if err != nil {
		t.Fatalf("Open trace file failed: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineCount := 0
	for scanner.Scan() {
		lineCount++
		var record TraceRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Errorf("Unmarshal line %d failed: %v", lineCount, err)
		}
	}
	if lineCount != 3 {
		t.Errorf("Expected 3 lines, got %d", lineCount)
	}
}

func TestFileExporter_Rotation(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath, WithMaxSize(1024), WithMaxRotatedFiles(3))
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	// Each record is roughly 250 bytes, so 20 records rotate several times.
	for i := 0; i < 20; i++ {
		record := &TraceRecord{
			Timestamp:   time.Now(),
			OperationID: "op-" + strings.Repeat("x", 50),
			Operation:   "save",
			DurationMs:  3,
			Status:      "success",
			Spans: []SpanRecord{
				{Name: "write-events", DurationMs: 2, OK: true, Counters: map[string]int64{"events": 10}},
				{Name: "write-graph", DurationMs: 1, OK: true},
			},
		}
		if err := exporter.Export(context.Background(), record); err != nil {
			t.Fatalf("Export %d failed: %v", i, err)
		}
	}

	rotated, err := exporter.(*FileExporter).RotatedFiles()
	if err != nil {
		t.Fatalf("RotatedFiles failed: %v", err)
	}
	if len(rotated) == 0 {
		t.Fatal("Expected at least one rotated file")
	}
	if len(rotated) > 3 {
		t.Errorf("Expected at most 3 rotated files, got %d", len(rotated))
	}
	if rotated[0] != tracePath+".1" {
		t.Errorf("Expected newest rotated file first, got %s", rotated[0])
	}
}

func TestFileExporter_NoPayloadContent(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}

	record := &TraceRecord{
		Timestamp:   time.Now(),
		OperationID: "test-op",
		Operation:   "append",
		Status:      "success",
		Spans:       []SpanRecord{{Name: "insert", OK: true}},
		IDs:         map[string]any{"eventId": "uuid-123"},
	}
	if err := exporter.Export(context.Background(), record); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Read trace file failed: %v", err)
	}
	content := string(data)

	if strings.Contains(content, "payload") {
		t.Errorf("Trace contains payload field: %s", content)
	}
	for _, field := range []string{"operationId", "operation", "durationMs", "status", "spans", "eventId"} {
		if !strings.Contains(content, field) {
			t.Errorf("Trace missing expected field '%s'", field)
		}
	}
}

func TestFileExporter_ErrorRecording(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}

	record := &TraceRecord{
		Timestamp:   time.Now(),
		OperationID: "error-op",
		Operation:   "load",
		DurationMs:  1,
		Status:      "error",
		ErrorType:   "parse",
		Spans: []SpanRecord{
			{Name: "read-events", DurationMs: 1, OK: false, ErrorType: "parse"},
		},
	}
	if err := exporter.Export(context.Background(), record); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Read trace file failed: %v", err)
	}

	var readRecord TraceRecord
	if err := json.Unmarshal(data, &readRecord); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if readRecord.Status != "error" {
		t.Errorf("Expected status 'error', got '%s'", readRecord.Status)
	}
	if readRecord.ErrorType != "parse" {
		t.Errorf("Expected errorType 'parse', got '%s'", readRecord.ErrorType)
	}
	if readRecord.Spans[0].OK {
		t.Error("Expected span OK=false")
	}
}

func TestFileExporter_CloseIdempotent(t *testing.T) {
	exporter, err := NewFileExporter(filepath.Join(t.TempDir(), "traces.jsonl"))
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}

	if err := exporter.Close(); err != nil {
		t.Errorf("First Close failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	err = exporter.Export(context.Background(), &TraceRecord{Operation: "append"})
	if !errors.Is(err, ErrExporterClosed) {
		t.Errorf("Expected ErrExporterClosed after Close, got %v", err)
	}
}

func TestFileExporter_DirectoryCreation(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "nested", "subdir", "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	if _, err := os.Stat(filepath.Dir(tracePath)); os.IsNotExist(err) {
		t.Error("Expected nested directory to be created")
	}
}

func TestRecorder_KeepsRecordsInOrder(t *testing.T) {
	r := NewRecorder()
	for _, op := range []string{"append", "rank", "save"} {
		if err := r.Export(context.Background(), &TraceRecord{Operation: op}); err != nil {
			t.Fatal(err)
		}
	}

	records := r.Records()
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	if records[0].Operation != "append" || records[2].Operation != "save" {
		t.Errorf("Unexpected order: %+v", records)
	}
}
