// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command report renders loadgen JSONL results as an aligned table and
// summarizes pass/fail totals. With -check it exits non-zero when any
// scenario failed, so it can gate CI runs.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
)

type result struct {
	Scenario       string  `json:"scenario"`
	Description    string  `json:"description"`
	PayloadLabel   string  `json:"payload_label"`
	PayloadBytes   int     `json:"payload_bytes"`
	Publishers     int     `json:"publishers"`
	Subscribers    int     `json:"subscribers"`
	Published      int64   `json:"published"`
	Expected       int64   `json:"expected"`
	Received       int64   `json:"received"`
	SubscribeOps   int64   `json:"subscribe_ops"`
	UnsubscribeOps int64   `json:"unsubscribe_ops"`
	PublishRateMPS float64 `json:"publish_rate_mps"`
	ReceiveRateMPS float64 `json:"receive_rate_mps"`
	DeliveryRatio  float64 `json:"delivery_ratio"`
	DurationMS     int64   `json:"duration_ms"`
	Errors         int64   `json:"errors"`
	Pass           bool    `json:"pass"`
	Notes          string  `json:"notes"`
}

func main() {
	input := flag.String("input", "", "Path to JSONL results file")
	check := flag.Bool("check", false, "Exit 1 if any scenario failed")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "-input is required")
		os.Exit(2)
	}

	results, err := readResults(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	failed := render(os.Stdout, results)
	fmt.Printf("\n%d scenarios, %d failed\n", len(results), failed)

	if *check && failed > 0 {
		os.Exit(1)
	}
}

// readResults parses one JSON object per line. Blank and malformed lines are
// skipped so a partially written results file still renders.
func readResults(path string) ([]result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var results []result
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r result
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		results = append(results, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return results, nil
}

func render(out *os.File, results []result) (failed int) {
	w := tabwriter.NewWriter(out, 2, 2, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tPAYLOAD\tSENT\tEXPECTED\tRECEIVED\tPUB\tSUB\tSUB_OPS\tUNSUB_OPS\tMPS_SENT\tMPS_RECV\tRATIO\tDUR_MS\tPASS\tERRORS\tDESCRIPTION")
	for _, r := range results {
		if !r.Pass {
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.2f\t%.2f\t%.4f\t%d\t%v\t%d\t%s\n",
			r.Scenario,
			payloadLabel(r),
			r.Published,
			r.Expected,
			r.Received,
			r.Publishers,
			r.Subscribers,
			r.SubscribeOps,
			r.UnsubscribeOps,
			r.PublishRateMPS,
			r.ReceiveRateMPS,
			r.DeliveryRatio,
			r.DurationMS,
			r.Pass,
			r.Errors,
			orDash(r.Description),
		)
		if r.Notes != "" {
			fmt.Fprintf(w, "  notes:\t%s\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t\n", r.Notes)
		}
	}
	_ = w.Flush()

	return failed
}

func payloadLabel(r result) string {
	if r.PayloadLabel != "" {
		return r.PayloadLabel
	}
	return fmt.Sprintf("%dB", r.PayloadBytes)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
