package pipeline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestRunStagesInOrder(t *testing.T) {
	m := NewMain()
	m.out = &bytes.Buffer{}

	var ran []string
	stages := []Stage{
		{Name: "extract", Run: func() error { ran = append(ran, "extract"); return nil }},
		{Name: "stage", Run: func() error { ran = append(ran, "stage"); return nil }},
		{Name: "marts", Run: func() error { ran = append(ran, "marts"); return nil }},
	}

	if err := m.runStages(stages); err != nil {
		t.Fatalf("running stages: %v", err)
	}
	if len(ran) != 3 || ran[0] != "extract" || ran[1] != "stage" || ran[2] != "marts" {
		t.Fatalf("wrong stage order: %v", ran)
	}
}

func TestRunStagesAbortsOnFailure(t *testing.T) {
	m := NewMain()
	m.out = &bytes.Buffer{}

	var ran []string
	stages := []Stage{
		{Name: "extract", Run: func() error { ran = append(ran, "extract"); return nil }},
		{Name: "stage", Run: func() error { return errors.New("duckdb exploded") }},
		{Name: "marts", Run: func() error { ran = append(ran, "marts"); return nil }},
	}

	err := m.runStages(stages)
	if err == nil {
		t.Fatal("expected stage failure to propagate")
	}
	if !strings.Contains(err.Error(), "stage stage") || !strings.Contains(err.Error(), "duckdb exploded") {
		t.Fatalf("error should name the failing stage and cause: %v", err)
	}
	for _, name := range ran {
		if name == "marts" {
			t.Fatal("downstream stage ran after a failure")
		}
	}
}

func TestSummaryCountsNothingGracefully(t *testing.T) {
	m := NewMain()
	m.DataDir = t.TempDir()
	out := &bytes.Buffer{}
	m.out = out

	m.summary()
	if !strings.Contains(out.String(), "0 file(s)") {
		t.Fatalf("summary should report empty dirs: %q", out.String())
	}
}
