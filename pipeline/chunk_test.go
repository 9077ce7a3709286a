package pipeline

import (
	"testing"

	"github.com/goliatone/go-ingest/core"
)

func TestChunkSteps_SizeIsMonotone(t *testing.T) {
	steps := DefaultChunkSteps()
	if got := steps.Size(9999); got != 1000 {
		t.Fatalf("expected 1000 below threshold, got %d", got)
	}
	if got := steps.Size(10000); got != 10000 {
		t.Fatalf("expected 10000 at threshold, got %d", got)
	}
	previous := 0
	for _, total := range []int{0, 10, 5000, 10000, 250000} {
		size := steps.Size(total)
		if size < previous {
			t.Fatalf("chunk size decreased at %d rows", total)
		}
		previous = size
	}
	if got := (ChunkSteps{Small: 500, Large: 100}).Size(50000); got != 500 {
		t.Fatalf("expected large step clamped to small, got %d", got)
	}
}

func TestProgressIntervalAndMidProgress(t *testing.T) {
	cases := map[int]int{999: 10, 9999: 50, 99999: 100, 100000: 1000}
	for total, expected := range cases {
		if got := ProgressInterval(total); got != expected {
			t.Fatalf("interval for %d: expected %d, got %d", total, expected, got)
		}
	}
	if got := MidProgress(50, 100); got != 50 {
		t.Fatalf("expected 50, got %v", got)
	}
	if got := MidProgress(100, 100); got != 90 {
		t.Fatalf("expected mid-phase cap at 90, got %v", got)
	}
}

func TestDedup_KeepsFirstPositionAndLastValues(t *testing.T) {
	rows := Dedup([]core.ProductUpsert{
		{SKU: "A", Name: "first"},
		{SKU: "b", Name: "b"},
		{SKU: "a", Name: "last"},
	})
	if len(rows) != 2 || rows[0].SKU != "a" || rows[0].Name != "last" || rows[1].SKU != "b" {
		t.Fatalf("unexpected dedup result %+v", rows)
	}
}

func TestValidateHeader_NormalizesNames(t *testing.T) {
	columns, err := validateHeader([]string{" NAME ", "Sku", "description", "name"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if columns["name"] != 3 {
		t.Fatalf("expected repeated column to resolve to last position, got %d", columns["name"])
	}
	if _, err := validateHeader(nil); err == nil || err.Error() != emptyHeaderMessage {
		t.Fatalf("expected empty header message, got %v", err)
	}
}

func TestColumnActivePolicy(t *testing.T) {
	policy := ColumnActivePolicy{Fallback: true}
	if policy.Active(Row{"active": "false"}) {
		t.Fatalf("expected false column value")
	}
	if !policy.Active(Row{"active": "maybe"}) {
		t.Fatalf("expected fallback for unparseable value")
	}
	if !policy.Active(Row{}) {
		t.Fatalf("expected fallback for missing column")
	}
}
