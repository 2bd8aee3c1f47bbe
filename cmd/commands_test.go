package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/cwbudde/shiftnoise/internal/server"
	"github.com/cwbudde/shiftnoise/internal/store"
)

// executeCommand runs the root command with args and returns its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.Execute()
	return out.String(), err
}

var smallSolveArgs = []string{"-n", "2", "--xmax", "2", "-C", "1", "--tol", "1e-4"}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "shiftnoise version "+version) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSolveSaveAndSample(t *testing.T) {
	dir := t.TempDir()

	args := append([]string{"solve", "--data-dir", dir, "--save", "--trace", "--json=false"}, smallSolveArgs...)
	out, err := executeCommand(t, args...)
	if err != nil {
		t.Fatalf("solve failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Objective:") || !strings.Contains(out, "Grid:          9 bins") {
		t.Errorf("unexpected summary:\n%s", out)
	}

	records, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	infos, err := records.ListRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(infos))
	}
	name := infos[0].Name
	if name != "exact_n2_xmax2_cexp2_C1_r0.9" {
		t.Errorf("unexpected record name %s", name)
	}

	reader, err := store.NewTraceReader(dir, name)
	if err != nil {
		t.Fatalf("trace missing: %v", err)
	}
	entries, err := reader.ReadAll()
	reader.Close()
	if err != nil || len(entries) == 0 {
		t.Errorf("Expected trace entries, got %d (%v)", len(entries), err)
	}

	out, err = executeCommand(t, "sample", name, "--data-dir", dir, "-k", "20", "--seed", "7")
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	lines := strings.Fields(out)
	if len(lines) != 20 {
		t.Fatalf("Expected 20 samples, got %d", len(lines))
	}
	for _, l := range lines {
		if _, err := strconv.ParseFloat(l, 64); err != nil {
			t.Errorf("sample %q is not a number", l)
		}
	}

	again, _ := executeCommand(t, "sample", name, "--data-dir", dir, "-k", "20", "--seed", "7")
	if again != out {
		t.Error("same seed should give the same samples")
	}

	out, err = executeCommand(t, "records", "list", "--data-dir", dir)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, name) || !strings.Contains(out, "Total records: 1") {
		t.Errorf("unexpected listing:\n%s", out)
	}

	out, err = executeCommand(t, "records", "show", name, "--data-dir", dir)
	if err != nil {
		t.Fatal(err)
	}
	var rec store.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("show output is not a record: %v", err)
	}
	if len(rec.Distribution) != 9 {
		t.Errorf("Expected 9 bins, got %d", len(rec.Distribution))
	}

	if _, err := executeCommand(t, "records", "delete", name, "--data-dir", dir); err != nil {
		t.Fatal(err)
	}
	if _, err := executeCommand(t, "sample", name, "--data-dir", dir); err == nil {
		t.Error("sampling a deleted record should fail")
	}
}

func TestSolveRejectsInvalidConfig(t *testing.T) {
	_, err := executeCommand(t, "solve", "-n", "2", "--xmax", "2", "-C", "1", "--mode", "fast")
	if err == nil {
		t.Error("Expected error for unknown mode")
	}
	_, err = executeCommand(t, "solve", "-n", "2", "--xmax", "2", "-C", "-1", "--mode", "exact")
	if err == nil {
		t.Error("Expected error for negative cost bound")
	}
}

func TestBoundsCommand(t *testing.T) {
	out, err := executeCommand(t, append([]string{"bounds"}, smallSolveArgs...)...)
	if err != nil {
		t.Fatalf("bounds failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Upper (exact):") || !strings.Contains(out, "Lower (bin-floor):") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestBaselineCommand(t *testing.T) {
	args := append([]string{"baseline", "--iters", "5", "--pop", "6", "--compare"}, smallSolveArgs...)
	out, err := executeCommand(t, args...)
	if err != nil {
		t.Fatalf("baseline failed: %v\n%s", err, out)
	}
	for _, family := range []string{"geometric", "plateau", "newton"} {
		if !strings.Contains(out, family) {
			t.Errorf("output misses %s:\n%s", family, out)
		}
	}
}

func TestBaselineRejectsEmptyPopulation(t *testing.T) {
	args := append([]string{"baseline", "--iters", "5", "--pop", "0"}, smallSolveArgs...)
	if _, err := executeCommand(t, args...); err == nil {
		t.Error("Expected error for population size 0")
	}
}

func TestStatusCommand(t *testing.T) {
	srv := server.NewServer("", nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	out, err := executeCommand(t, "status", "--server", ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No jobs found") {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := executeCommand(t, "status", "missing", "--server", ts.URL); err == nil {
		t.Error("Expected error for unknown job")
	}
}
