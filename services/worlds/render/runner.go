// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package render hands a configuration to the external generator and
// collects the visual evidence the critics judge.
//
// The generator itself is a collaborator: ExecRunner shells out to a
// configured command, StaticRunner points at evidence rendered elsewhere.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// Kind selects which evidence a render produces.
type Kind string

// Render kinds.
const (
	KindObject Kind = "object"
	KindScene  Kind = "scene"
)

// ErrRenderFailed is the error kind for a generator that exited non-zero or
// produced no evidence.
var ErrRenderFailed = errors.New("render failed")

const (
	defaultTimeout = 30 * time.Minute
	maxOutputBytes = 64 << 10
)

// Request describes one render.
type Request struct {
	Kind       Kind
	ConfigPath string
	OutDir     string
}

// Evidence is what the critics look at. Object renders fill Front and Side;
// scene renders fill FramesDir and, when the generator wrote one, VideoPath.
type Evidence struct {
	Front     string `json:"front_image,omitempty"`
	Side      string `json:"side_image,omitempty"`
	FramesDir string `json:"frames_dir,omitempty"`
	VideoPath string `json:"video_path,omitempty"`
}

// Runner produces evidence for a configuration.
type Runner interface {
	Render(ctx context.Context, req Request) (Evidence, error)
}

// ExecRunner runs a command template per render.
//
// Description:
//
//	Each argument may contain {config}, {out} and {kind}, replaced with the
//	request's values. The command runs without a shell. Output beyond 64 KiB
//	is dropped and only used for error messages.
//
// Thread Safety: ExecRunner is safe for concurrent use.
type ExecRunner struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecRunner creates a runner. timeout <= 0 uses 30 minutes.
func NewExecRunner(command []string, timeout time.Duration, logger *slog.Logger) (*ExecRunner, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("render: command is empty")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		command: append([]string(nil), command...),
		timeout: timeout,
		logger:  logger.With(slog.String("component", "render")),
	}, nil
}

// Render runs the command and collects evidence from req.OutDir.
func (r *ExecRunner) Render(ctx context.Context, req Request) (Evidence, error) {
	if err := os.MkdirAll(req.OutDir, 0o750); err != nil {
		return Evidence{}, schema.NewStageError(schema.StageRender, ErrRenderFailed, err)
	}
	args := make([]string, len(r.command))
	repl := strings.NewReplacer("{config}", req.ConfigPath, "{out}", req.OutDir, "{kind}", string(req.Kind))
	for i, a := range r.command {
		args[i] = repl.Replace(a)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	cmd := exec.CommandContext(execCtx, args[0], args[1:]...)
	var out limitedBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	r.logger.Info("render: starting", slog.String("kind", string(req.Kind)), slog.String("binary", args[0]))
	err := cmd.Run()
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timeout after %s", r.timeout)
		}
		return Evidence{}, schema.NewStageError(schema.StageRender, ErrRenderFailed,
			fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(out.String())))
	}
	r.logger.Info("render: finished", slog.Duration("duration", time.Since(start)))
	return Collect(req.Kind, req.OutDir)
}

// StaticRunner returns evidence rendered outside the pipeline.
type StaticRunner struct {
	Evidence Evidence
}

// Render checks that the fixed evidence exists and returns it.
func (s StaticRunner) Render(_ context.Context, req Request) (Evidence, error) {
	ev := s.Evidence
	var paths []string
	switch req.Kind {
	case KindObject:
		paths = []string{ev.Front, ev.Side}
	default:
		paths = []string{ev.FramesDir}
	}
	for _, p := range paths {
		if p == "" {
			return Evidence{}, schema.NewStageError(schema.StageRender, schema.ErrMissingArtifact,
				fmt.Errorf("no pre-rendered %s evidence configured", req.Kind))
		}
		if _, err := os.Stat(p); err != nil {
			return Evidence{}, schema.NewStageError(schema.StageRender, schema.ErrMissingArtifact,
				&schema.MissingArtifactError{Path: p, Producer: schema.StageRender})
		}
	}
	return ev, nil
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Collect finds evidence in dir.
//
// Object: front.* and side.* when present, otherwise the first two images
// in lexical order. Scene: dir/frames when it exists, otherwise dir itself,
// plus the first .mp4 as VideoPath.
func Collect(kind Kind, dir string) (Evidence, error) {
	images, videos, err := listMedia(dir)
	if err != nil {
		return Evidence{}, schema.NewStageError(schema.StageRender, ErrRenderFailed, err)
	}
	var ev Evidence
	switch kind {
	case KindObject:
		for _, p := range images {
			switch strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)) {
			case "front":
				ev.Front = p
			case "side":
				ev.Side = p
			}
		}
		if ev.Front == "" || ev.Side == "" {
			if len(images) < 2 {
				return Evidence{}, schema.NewStageError(schema.StageRender, ErrRenderFailed,
					fmt.Errorf("%s: expected front and side views, found %d images", dir, len(images)))
			}
			ev.Front, ev.Side = images[0], images[1]
		}
	default:
		ev.FramesDir = dir
		if st, err := os.Stat(filepath.Join(dir, "frames")); err == nil && st.IsDir() {
			ev.FramesDir = filepath.Join(dir, "frames")
		}
		if len(videos) > 0 {
			ev.VideoPath = videos[0]
		}
	}
	return ev, nil
}

func listMedia(dir string) (images, videos []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		switch {
		case imageExts[ext]:
			images = append(images, filepath.Join(dir, e.Name()))
		case ext == ".mp4":
			videos = append(videos, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(images)
	sort.Strings(videos)
	return images, videos, nil
}

// limitedBuffer keeps the first maxOutputBytes written to it.
type limitedBuffer struct {
	buf bytes.Buffer
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := maxOutputBytes - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}

func (l *limitedBuffer) String() string { return l.buf.String() }
