// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// withPersonality sets the level for one test and captures the print
// helpers' output.
func withPersonality(t *testing.T, level PersonalityLevel) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	prev := GetPersonality()
	SetPersonalityLevel(level)

	var out, errOut bytes.Buffer
	SetOutput(&out, &errOut)
	t.Cleanup(func() {
		SetPersonality(prev)
		SetOutput(nil, nil)
	})
	return &out, &errOut
}

// =============================================================================
// Personality
// =============================================================================

func TestParsePersonalityLevel(t *testing.T) {
	tests := map[string]PersonalityLevel{
		"full":     PersonalityFull,
		"F":        PersonalityFull,
		"std":      PersonalityStandard,
		"minimal":  PersonalityMinimal,
		"m":        PersonalityMinimal,
		"machine":  PersonalityMachine,
		" quiet ":  PersonalityMachine,
		"nonsense": PersonalityStandard,
		"":         PersonalityStandard,
	}
	for in, want := range tests {
		if got := ParsePersonalityLevel(in); got != want {
			t.Errorf("ParsePersonalityLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInitPersonality_FlagWinsOverEnv(t *testing.T) {
	prev := GetPersonality()
	t.Cleanup(func() { SetPersonality(prev) })
	t.Setenv(PersonalityEnv, "minimal")

	InitPersonality("machine")
	if GetPersonality().Level != PersonalityMachine {
		t.Errorf("expected flag value to win, got %q", GetPersonality().Level)
	}

	InitPersonality("")
	if GetPersonality().Level != PersonalityMinimal {
		t.Errorf("expected env value, got %q", GetPersonality().Level)
	}
}

func TestSetPersonalityLevel_TipsOnlyAtFull(t *testing.T) {
	prev := GetPersonality()
	t.Cleanup(func() { SetPersonality(prev) })

	SetPersonalityLevel(PersonalityFull)
	if !GetPersonality().ShowTips {
		t.Error("expected tips at full personality")
	}
	SetPersonalityLevel(PersonalityMinimal)
	if GetPersonality().ShowTips {
		t.Error("expected no tips at minimal personality")
	}
}

func TestIsTerminal_Nil(t *testing.T) {
	if IsTerminal(nil) {
		t.Error("nil file is not a terminal")
	}
}

// =============================================================================
// Print helpers
// =============================================================================

func TestPrintHelpers_MachineMode(t *testing.T) {
	out, errOut := withPersonality(t, PersonalityMachine)

	Title("ignored")
	Success("saved")
	Warning("slow")
	Error("broken")
	Info("plain")
	Muted("ignored")
	Box("answer", "text")

	if got, want := out.String(), "OK: saved\nplain\nANSWER: text\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
	if got, want := errOut.String(), "WARN: slow\nERROR: broken\n"; got != want {
		t.Errorf("stderr = %q, want %q", got, want)
	}
}

func TestPrintHelpers_StandardModeUsesIcons(t *testing.T) {
	out, _ := withPersonality(t, PersonalityStandard)

	Success("saved")
	Error("broken")

	if !strings.Contains(out.String(), string(IconSuccess)) {
		t.Errorf("expected success icon, got %q", out.String())
	}
	if !strings.Contains(out.String(), string(IconError)) {
		t.Errorf("expected error icon, got %q", out.String())
	}
}

func TestTip_RespectsShowTips(t *testing.T) {
	out, _ := withPersonality(t, PersonalityStandard)
	Tip("hidden")
	if out.Len() != 0 {
		t.Errorf("expected no tip at standard, got %q", out.String())
	}

	SetPersonalityLevel(PersonalityFull)
	Tip("use --buffered")
	if !strings.Contains(out.String(), "tip: use --buffered") {
		t.Errorf("expected tip, got %q", out.String())
	}
}

func TestSectionStatus_Machine(t *testing.T) {
	out, _ := withPersonality(t, PersonalityMachine)
	SectionStatus("Background", IconSuccess, "412 chars")
	if got, want := out.String(), "✓\tBackground\t412 chars\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRecoverySummary_Machine(t *testing.T) {
	_, errOut := withPersonality(t, PersonalityMachine)
	RecoverySummary("repaired", 4, 3, 1, []string{"quote_bare_keys", "close_truncated"})

	want := "RECOVERY: tier=repaired nodes=4 links=3 categories=1 repairs=quote_bare_keys,close_truncated\n"
	if errOut.String() != want {
		t.Errorf("got %q, want %q", errOut.String(), want)
	}
}

func TestRecoverySummary_DegradedIsWarning(t *testing.T) {
	out, _ := withPersonality(t, PersonalityStandard)
	RecoverySummary("extracted", 2, 1, 1, nil)
	if !strings.Contains(out.String(), string(IconWarning)) {
		t.Errorf("expected warning icon for degraded tier, got %q", out.String())
	}
	if strings.Contains(out.String(), "repairs") {
		t.Errorf("expected no repairs line, got %q", out.String())
	}
}

func TestProgressBar(t *testing.T) {
	withPersonality(t, PersonalityMachine)
	if got := ProgressBar(3, 8, 20); got != "3/8" {
		t.Errorf("machine progress = %q", got)
	}

	SetPersonalityLevel(PersonalityStandard)
	if got := ProgressBar(10, 8, 10); !strings.Contains(got, "125%") {
		t.Errorf("overflow progress should still render, got %q", got)
	}
	if got := ProgressBar(0, 0, 10); got != "0/0" {
		t.Errorf("zero total = %q", got)
	}
}

// =============================================================================
// Spinner
// =============================================================================

func TestSpinner_MachineModePrintsOnce(t *testing.T) {
	withPersonality(t, PersonalityMachine)
	var buf bytes.Buffer

	spin := NewSpinner("Loading").WithWriter(&buf)
	spin.Start()
	spin.Start()
	spin.Stop()

	if got := buf.String(); got != "PROGRESS: Loading\n" {
		t.Errorf("got %q", got)
	}
}

func TestSpinner_AnimatesAndClears(t *testing.T) {
	withPersonality(t, PersonalityStandard)
	var buf bytes.Buffer

	spin := NewSpinner("Loading").WithWriter(&buf)
	spin.Start()
	time.Sleep(3 * spinnerInterval)
	spin.Stop()
	spin.Stop()

	out := buf.String()
	if !strings.Contains(out, "Loading") {
		t.Errorf("expected frames with message, got %q", out)
	}
	if !strings.HasSuffix(out, "\r\033[K") {
		t.Errorf("expected line cleared on stop, got %q", out)
	}
}

func TestSpinner_StepConcurrent(t *testing.T) {
	withPersonality(t, PersonalityMachine)
	spin := NewSpinner("Filling").WithTotal(8)

	done := make(chan struct{})
	for range 8 {
		go func() {
			spin.Step()
			done <- struct{}{}
		}()
	}
	for range 8 {
		<-done
	}

	if spin.Steps() != 8 {
		t.Errorf("expected 8, got %d", spin.Steps())
	}
	var buf bytes.Buffer
	spin.WithWriter(&buf).Start()
	spin.Stop()
	if got := buf.String(); got != "PROGRESS: Filling [8/8]\n" {
		t.Errorf("unexpected progress line %q", got)
	}
}

func TestSpinner_Restart(t *testing.T) {
	withPersonality(t, PersonalityStandard)
	var buf bytes.Buffer

	spin := NewSpinner("Loading").WithWriter(&buf)
	spin.Start()
	spin.Stop()
	spin.SetLabel("Again")
	spin.Start()
	time.Sleep(3 * spinnerInterval)
	spin.Stop()

	if !strings.Contains(buf.String(), "Again") {
		t.Errorf("expected relabelled frames, got %q", buf.String())
	}
}

func TestWithSpinner_ReportsOutcome(t *testing.T) {
	out, errOut := withPersonality(t, PersonalityMachine)

	if err := WithSpinner("step", func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "OK: step") {
		t.Errorf("expected success line, got %q", out.String())
	}

	if err := WithSpinner("step", func() error { return errTest }); err != errTest {
		t.Fatalf("expected errTest, got %v", err)
	}
	if !strings.Contains(errOut.String(), "ERROR: step: test failure") {
		t.Errorf("expected error line, got %q", errOut.String())
	}
}

var errTest = testError("test failure")

type testError string

func (e testError) Error() string { return string(e) }
