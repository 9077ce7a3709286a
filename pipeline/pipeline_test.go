package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-ingest/core"
	"github.com/xuri/excelize/v2"
)

func TestIngest_CompletesWithDedupAndMonotoneProgress(t *testing.T) {
	f := newFixture(t, core.PipelineConfig{})
	payload := []byte("SKU ,Name,Description\n" +
		"ABC-1,First,one\n" +
		"def-2,Second,\n" +
		",Missing Sku,x\n" +
		"abc-1,First Again,latest\n" +
		"ghi-3,,no name\n")

	job, status := f.ingest(t, payload)

	if status != core.JobStatusCompleted || job.Status != core.JobStatusCompleted {
		t.Fatalf("expected completed job, got %s / %+v", status, job)
	}
	if job.TotalRows == nil || *job.TotalRows != 5 {
		t.Fatalf("expected 5 counted rows, got %v", job.TotalRows)
	}
	if job.ProcessedRows != 3 || job.Progress != 100 {
		t.Fatalf("expected 3 accepted rows at 100%%, got %+v", job)
	}

	products := f.products.snapshot()
	if len(products) != 2 {
		t.Fatalf("expected 2 distinct products, got %d", len(products))
	}
	abc := products["abc-1"]
	if abc.Name != "First Again" || abc.Description == nil || *abc.Description != "latest" {
		t.Fatalf("expected last occurrence to win, got %+v", abc)
	}
	if products["def-2"].Description != nil {
		t.Fatalf("expected empty description stored as nil")
	}
	if !abc.Active {
		t.Fatalf("expected default active policy to be true")
	}

	values := f.reporter.recorded()
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			t.Fatalf("progress regressed: %v", values)
		}
	}
	if values[0] != 5 || values[len(values)-1] != 100 {
		t.Fatalf("expected progress from 5 to 100, got %v", values)
	}
}

func TestIngest_MissingColumnsFailsBeforeCounting(t *testing.T) {
	f := newFixture(t, core.PipelineConfig{})
	job, status := f.ingest(t, []byte("Name,SKU\nWidget,w-1\n"))

	if status != core.JobStatusFailed || job.ErrorKind != core.JobErrorKindValidation {
		t.Fatalf("expected validation failure, got %s / %+v", status, job)
	}
	expected := "Missing required columns: description. Your CSV must have columns: name, sku, description. Found columns: Name, SKU"
	if job.ErrorMessage == nil || *job.ErrorMessage != expected {
		t.Fatalf("unexpected error message %v", job.ErrorMessage)
	}
	if job.TotalRows != nil || job.ProcessedRows != 0 || job.Progress != 0 {
		t.Fatalf("expected counters untouched, got %+v", job)
	}
	if len(f.products.snapshot()) != 0 {
		t.Fatalf("expected no products written")
	}
	state, ok, _ := f.backend.Get(context.Background(), job.TaskID)
	if !ok || state.State != core.TaskStateFailure || state.Error != expected {
		t.Fatalf("expected failure blob, got %+v", state)
	}
}

func TestIngest_EmptyFileFails(t *testing.T) {
	f := newFixture(t, core.PipelineConfig{})
	job, _ := f.ingest(t, []byte(""))
	if job.ErrorMessage == nil || *job.ErrorMessage != emptyHeaderMessage {
		t.Fatalf("expected empty-file message, got %v", job.ErrorMessage)
	}
}

func TestIngest_HeaderOnlyCompletesWithZeroRows(t *testing.T) {
	f := newFixture(t, core.PipelineConfig{})
	job, status := f.ingest(t, []byte("name,sku,description\n"))
	if status != core.JobStatusCompleted || job.ProcessedRows != 0 || job.Progress != 100 {
		t.Fatalf("expected empty completion, got %+v", job)
	}
	if job.TotalRows == nil || *job.TotalRows != 0 {
		t.Fatalf("expected total_rows 0, got %v", job.TotalRows)
	}
}

func TestIngest_AllRowsSkippedCompletes(t *testing.T) {
	f := newFixture(t, core.PipelineConfig{})
	job, status := f.ingest(t, []byte("name,sku,description\n,a,x\nb,,y\n"))
	if status != core.JobStatusCompleted || job.ProcessedRows != 0 || *job.TotalRows != 2 {
		t.Fatalf("expected completion with zero accepted rows, got %+v", job)
	}
}

func TestIngest_DecodesBOMAndLatin1(t *testing.T) {
	f := newFixture(t, core.PipelineConfig{})
	payload := append([]byte{0xEF, 0xBB, 0xBF}, []byte("name,sku,description\nCafe,c-1,ok\n")...)
	if job, _ := f.ingest(t, payload); job.Status != core.JobStatusCompleted {
		t.Fatalf("expected BOM header accepted, got %+v", job)
	}

	latin1 := []byte("name,sku,description\nCaf\xe9,c-2,cr\xe8me\n")
	if job, _ := f.ingest(t, latin1); job.Status != core.JobStatusCompleted {
		t.Fatalf("expected latin-1 payload accepted, got %+v", job)
	}
	if got := f.products.snapshot()["c-2"].Name; got != "Café" {
		t.Fatalf("expected latin-1 decoding, got %q", got)
	}
}

func TestIngest_ChunkFailureFallsBackRowByRow(t *testing.T) {
	cfg := core.DefaultConfig().Pipeline
	cfg.SmallChunkSize = 2
	cfg.LargeChunkSize = 2
	f := newFixture(t, cfg)
	f.products.failSKUs["bad"] = true

	job, status := f.ingest(t, []byte("name,sku,description\nA,a,\nB,bad,\nC,c,\nD,d,\n"))

	if status != core.JobStatusCompleted {
		t.Fatalf("expected completion despite chunk failure, got %+v", job)
	}
	if job.ProcessedRows != 4 || job.FailedRows != 1 {
		t.Fatalf("expected 4 processed and 1 failed, got %+v", job)
	}
	if job.ErrorMessage == nil || !strings.HasPrefix(*job.ErrorMessage, "Error at row 2: ") {
		t.Fatalf("expected chunk error recorded, got %v", job.ErrorMessage)
	}
	products := f.products.snapshot()
	if _, ok := products["a"]; !ok || len(products) != 3 {
		t.Fatalf("expected good rows stored, got %v", products)
	}
	if f.products.singleCalls != 2 {
		t.Fatalf("expected row-by-row retry for the failed chunk only, got %d", f.products.singleCalls)
	}
}

func TestIngest_SoftTimeLimitFailsWithTimeLimitKind(t *testing.T) {
	cfg := core.DefaultConfig().Pipeline
	cfg.SoftTimeLimit = 50 * time.Millisecond
	cfg.HardTimeLimit = time.Second
	f := newFixture(t, cfg)
	f.products.blockOnCtx = true

	job, status := f.ingest(t, []byte("name,sku,description\nA,a,\n"))

	if status != core.JobStatusFailed || job.ErrorKind != core.JobErrorKindTimeLimit {
		t.Fatalf("expected time limit failure, got %s / %+v", status, job)
	}
	if job.ErrorMessage == nil || *job.ErrorMessage != TimeLimitMessage {
		t.Fatalf("unexpected time limit message %v", job.ErrorMessage)
	}
	state, _, _ := f.backend.Get(context.Background(), job.TaskID)
	if state.State != core.TaskStateFailure || state.Error != "Processing exceeded time limit" {
		t.Fatalf("unexpected failure blob %+v", state)
	}
}

func TestIngest_ReapplyingSameFileIsIdempotent(t *testing.T) {
	f := newFixture(t, core.PipelineConfig{})
	payload := []byte("name,sku,description\nA,a,one\nB,b,two\n")
	f.ingest(t, payload)
	first := f.products.snapshot()
	f.ingest(t, payload)
	second := f.products.snapshot()
	if len(first) != len(second) || second["a"].Name != first["a"].Name {
		t.Fatalf("expected identical product set after re-apply, got %v vs %v", first, second)
	}
}

func TestIngest_ReadsFirstXLSXSheet(t *testing.T) {
	file := excelize.NewFile()
	defer file.Close()
	sheet := file.GetSheetName(0)
	rows := [][]any{
		{"Name", "SKU", "Description", "Active"},
		{"Sheet Item", "X-1", "from xlsx", "no"},
		{"Other", "X-2", "", "yes"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buffer, err := file.WriteToBuffer()
	if err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	f := newFixture(t, core.PipelineConfig{}, WithActivePolicy(ColumnActivePolicy{Column: "active", Fallback: true}))
	job, status := f.ingest(t, buffer.Bytes())
	if status != core.JobStatusCompleted || job.ProcessedRows != 2 {
		t.Fatalf("expected xlsx rows processed, got %+v", job)
	}
	products := f.products.snapshot()
	if products["x-1"].Active || !products["x-2"].Active {
		t.Fatalf("expected column active policy applied, got %+v", products)
	}
}

func TestIngest_UnknownJob(t *testing.T) {
	f := newFixture(t, core.PipelineConfig{})
	if _, err := f.pipeline.Ingest(context.Background(), []byte("name,sku,description\n"), "missing"); err == nil {
		t.Fatalf("expected unknown job error")
	}
}
