package usage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestJournal_RecordPairsExitAndEnter(t *testing.T) {
	j := NewJournal(0)
	j.Record("a", at(14, 9, 0))
	j.Record("a", at(14, 9, 5)) // repeat is a no-op
	j.Record("b", at(14, 9, 30))
	j.Record("", at(14, 10, 0))

	if j.Current() != "" {
		t.Errorf("Expected no foreground package, got %q", j.Current())
	}
	if j.Len() != 4 {
		t.Errorf("Expected 4 events, got %d", j.Len())
	}

	got, err := j.Events(context.Background(), "a", at(14, 0, 0), at(14, 12, 0))
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	want := []Event{
		{Package: "a", Kind: EventEnter, Time: at(14, 9, 0)},
		{Package: "a", Kind: EventExit, Time: at(14, 9, 30)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Events() mismatch (-want +got):\n%s", diff)
	}
}

func TestJournal_OpenSessionAtWindowStart(t *testing.T) {
	j := NewJournal(0)
	j.Record("a", at(13, 23, 0))
	j.Record("b", at(14, 1, 0))

	got, _ := j.Events(context.Background(), "a", at(14, 0, 0), at(14, 12, 0))
	want := []Event{
		{Package: "a", Kind: EventEnter, Time: at(14, 0, 0)},
		{Package: "a", Kind: EventExit, Time: at(14, 1, 0)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Events() mismatch (-want +got):\n%s", diff)
	}

	if d := ComputeForeground(got, at(14, 0, 0), at(14, 12, 0)); d != time.Hour {
		t.Errorf("Expected 1h today, got %v", d)
	}
}

func TestJournal_LateReportKeepsOrder(t *testing.T) {
	j := NewJournal(0)
	j.Record("a", at(14, 9, 0))
	j.Record("b", at(14, 8, 0))

	got, _ := j.Events(context.Background(), "b", at(14, 0, 0), at(14, 12, 0))
	if len(got) != 1 || !got[0].Time.Equal(at(14, 9, 0)) {
		t.Errorf("Expected late enter clamped to 09:00, got %+v", got)
	}
}

func TestJournal_Prune(t *testing.T) {
	j := NewJournal(time.Hour)
	j.Record("a", at(14, 0, 0))
	j.Record("b", at(14, 0, 30))
	j.Record("c", at(14, 2, 0))

	// enter(a), exit(a), enter(b) are older than the hour of retention
	if j.Len() != 2 {
		t.Fatalf("Expected 2 events after pruning, got %d", j.Len())
	}

	got, _ := j.Events(context.Background(), "c", at(14, 0, 0), at(14, 3, 0))
	if len(got) != 1 || got[0].Kind != EventEnter {
		t.Errorf("Expected current package enter to survive, got %+v", got)
	}
}
