// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kgstream/pkg/ux"
	"github.com/AleutianAI/kgstream/services/policy_engine"
)

// checkReport is the --json output of the check command.
type checkReport struct {
	Classification string                      `json:"classification"`
	Blocked        bool                        `json:"blocked"`
	Findings       []policy_engine.ScanFinding `json:"findings"`
}

func newCheckCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check [file|-]",
		Short: "Scan text for content that would not be sent upstream",
		Long: `Scans a file, or stdin, with the same rules chat and graph apply before
sending text to the model. Matches are reported by rule and line with the
matched text redacted. The command fails when a blocking rule matches.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, argOrEmpty(args))
			if err != nil {
				return err
			}
			findings, checkErr := a.guard.Check(text)
			report := checkReport{
				Classification: a.guard.ClassifyData([]byte(text)),
				Blocked:        checkErr != nil,
				Findings:       findings,
			}
			if report.Findings == nil {
				report.Findings = []policy_engine.ScanFinding{}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printFindings(cmd, report)
			}
			if checkErr != nil {
				return errors.Join(errReported, checkErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func printFindings(cmd *cobra.Command, report checkReport) {
	out := cmd.OutOrStdout()
	for _, f := range report.Findings {
		fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", f.LineNumber, f.Action, f.PatternId, f.Redacted)
	}
	switch {
	case report.Blocked:
		ux.Error(fmt.Sprintf("%d finding(s), classification %s: blocked", len(report.Findings), report.Classification))
	case len(report.Findings) > 0:
		ux.Warning(fmt.Sprintf("%d finding(s), classification %s", len(report.Findings), report.Classification))
	default:
		ux.Success("No sensitive content found")
	}
}
