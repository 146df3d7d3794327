// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// worlds_cache_dump inspects the worlds BadgerDB.
//
// The database holds two kinds of records: persisted knowledge-index chunk
// vectors and refinement-run checkpoints. This tool opens the database
// read-only and prints a human-readable summary of both: vector keys,
// corpus hashes, TTL remaining, per-chunk dimensions and a short sample of
// each vector, then every run with its state, iteration and last feedback.
//
// Usage:
//
//	worlds_cache_dump [--path /path/to/worlds/cache] [--vectors=false] [--runs=false]
//
// If --path is not given, reads WORLDS_BADGER_DIR from the environment,
// falling back to ~/.aleutian/cache/worlds/.
//
// Exit codes:
//
//	0 - success (including an empty database)
//	1 - error opening or reading the database
package main

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/config"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/controller"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/knowledge"
)

func main() {
	pathFlag := flag.String("path", "", "Path to the worlds BadgerDB directory (overrides WORLDS_BADGER_DIR)")
	showVectors := flag.Bool("vectors", true, "Print knowledge vector entries")
	showRuns := flag.Bool("runs", true, "Print run checkpoints")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = config.StorageConfig{BadgerDir: os.Getenv("WORLDS_BADGER_DIR")}.ResolvedBadgerDir()
	}
	fmt.Printf("Worlds cache path: %s\n", dbPath)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Cache directory does not exist. Nothing has been indexed or run yet.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil).
		WithReadOnly(true)
	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	if *showVectors {
		entries, err := collectVectors(db)
		if err != nil {
			fatalf("read vectors: %v", err)
		}
		printVectors(os.Stdout, entries, time.Now())
	}
	if *showRuns {
		runs, err := collectRuns(db)
		if err != nil {
			fatalf("read runs: %v", err)
		}
		printRuns(os.Stdout, runs)
	}
}

type vectorEntry struct {
	key        string
	corpusHash string
	expiresAt  time.Time
	hasExpiry  bool
	vectors    map[string][]float32
	rawSize    int
	decodeErr  error
}

type runEntry struct {
	key       string
	state     *controller.RunState
	decodeErr error
}

// scanPrefix calls fn with a copy of every value under prefix.
func scanPrefix(db *dgbadger.DB, prefix string, fn func(item *dgbadger.Item, raw []byte, err error)) error {
	return db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			fn(item, raw, err)
		}
		return nil
	})
}

func collectVectors(db *dgbadger.DB) ([]vectorEntry, error) {
	var entries []vectorEntry
	err := scanPrefix(db, knowledge.VectorKeyPrefix, func(item *dgbadger.Item, raw []byte, err error) {
		key := string(item.Key())
		e := vectorEntry{key: key, corpusHash: strings.TrimPrefix(key, knowledge.VectorKeyPrefix)}
		if expiresAt := item.ExpiresAt(); expiresAt > 0 {
			e.hasExpiry = true
			e.expiresAt = time.Unix(int64(expiresAt), 0)
		}
		if err != nil {
			e.decodeErr = fmt.Errorf("copy value: %w", err)
			entries = append(entries, e)
			return
		}
		e.rawSize = len(raw)
		if e.vectors, err = gobDecode(raw); err != nil {
			e.decodeErr = fmt.Errorf("gob decode: %w", err)
		}
		entries = append(entries, e)
	})
	return entries, err
}

func collectRuns(db *dgbadger.DB) ([]runEntry, error) {
	var runs []runEntry
	err := scanPrefix(db, controller.RunKeyPrefix, func(item *dgbadger.Item, raw []byte, err error) {
		e := runEntry{key: string(item.Key())}
		if err != nil {
			e.decodeErr = fmt.Errorf("copy value: %w", err)
			runs = append(runs, e)
			return
		}
		var rs controller.RunState
		if err := json.Unmarshal(raw, &rs); err != nil {
			e.decodeErr = fmt.Errorf("json decode: %w", err)
		} else {
			e.state = &rs
		}
		runs = append(runs, e)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].state == nil || runs[j].state == nil {
			return runs[j].state == nil && runs[i].state != nil
		}
		return runs[i].state.UpdatedAt.After(runs[j].state.UpdatedAt)
	})
	return runs, nil
}

func printVectors(w io.Writer, entries []vectorEntry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "\nNo knowledge vector entries found.")
		fmt.Fprintln(w, "The index has not been built with a persistent vector store yet.")
		return
	}

	fmt.Fprintf(w, "\nFound %d knowledge vector entr%s:\n", len(entries), plural(len(entries), "y", "ies"))
	fmt.Fprintln(w, strings.Repeat("─", 80))

	for i, e := range entries {
		fmt.Fprintf(w, "\n[%d] Key:         %s\n", i+1, e.key)
		fmt.Fprintf(w, "    Corpus hash: %s\n", e.corpusHash)

		if e.hasExpiry {
			remaining := e.expiresAt.Sub(now)
			if remaining < 0 {
				fmt.Fprintf(w, "    TTL:         EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Fprintf(w, "    TTL:         %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Fprintf(w, "    TTL:         no expiry set\n")
		}
		fmt.Fprintf(w, "    Raw size:    %s\n", formatBytes(e.rawSize))

		if e.decodeErr != nil {
			fmt.Fprintf(w, "    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}
		fmt.Fprintf(w, "    Chunks:      %d vectors\n", len(e.vectors))

		names := make([]string, 0, len(e.vectors))
		maxNameLen := len("Chunk")
		for name := range e.vectors {
			names = append(names, name)
			maxNameLen = max(maxNameLen, len(name))
		}
		sort.Strings(names)
		colWidth := maxNameLen + 2

		fmt.Fprintf(w, "\n    %-*s  %5s  %7s  %s\n", colWidth, "Chunk", "Dims", "L2Norm", "Sample (first 4 values)")
		for _, name := range names {
			vec := e.vectors[name]
			fmt.Fprintf(w, "    %-*s  %5d  %7.4f  %s\n", colWidth, name, len(vec), l2Norm(vec), formatSample(vec, 4))
		}
	}
	fmt.Fprintf(w, "\n%s\n", strings.Repeat("─", 80))
}

func printRuns(w io.Writer, runs []runEntry) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "\nNo run checkpoints found.")
		return
	}

	fmt.Fprintf(w, "\nFound %d run checkpoint%s:\n", len(runs), plural(len(runs), "", "s"))
	fmt.Fprintln(w, strings.Repeat("─", 80))
	for i, e := range runs {
		fmt.Fprintf(w, "\n[%d] Key:         %s\n", i+1, e.key)
		if e.decodeErr != nil {
			fmt.Fprintf(w, "    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}
		rs := e.state
		fmt.Fprintf(w, "    Pipeline:    %s\n", rs.Pipeline)
		fmt.Fprintf(w, "    State:       %s (iteration %d/%d)\n", rs.State, rs.Iteration, rs.MaxIterations)
		fmt.Fprintf(w, "    Instruction: %s\n", truncate(rs.Instruction, 60))
		if rs.Factory != "" {
			fmt.Fprintf(w, "    Factory:     %s\n", rs.Factory)
		}
		if rs.Reason != "" {
			fmt.Fprintf(w, "    Reason:      %s\n", rs.Reason)
		}
		if rs.LastFeedback != nil && rs.LastFeedback.Message != "" {
			fmt.Fprintf(w, "    Feedback:    %s\n", truncate(rs.LastFeedback.Message, 60))
		}
		fmt.Fprintf(w, "    Updated:     %s\n", rs.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(w, "\n%s\n", strings.Repeat("─", 80))
}

// gobDecode deserializes a map[string][]float32 from gob-encoded bytes.
func gobDecode(data []byte) (map[string][]float32, error) {
	var vectors map[string][]float32
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// l2Norm computes the L2 norm of a vector. Index vectors show ≈1.0000.
func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// formatSample returns the first n values of a vector as a bracketed string.
func formatSample(v []float32, n int) string {
	if len(v) == 0 {
		return "[]"
	}
	n = min(n, len(v))
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("%+.4f", v[i])
	}
	suffix := ""
	if len(v) > n {
		suffix = " ..."
	}
	return "[" + strings.Join(parts, ", ") + suffix + "]"
}

func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "worlds_cache_dump: "+format+"\n", args...)
	os.Exit(1)
}
