// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifacts is the file handoff between pipeline stages.
//
// Every stage reads and writes fixed file names under one work directory,
// so stages can also run one at a time from the CLI. Writes are atomic: a
// reader sees the previous file or the new one, never a partial write.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/critic"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/intent"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/synthesizer"
)

// Fixed artifact names.
const (
	SelectionFile    = "obj_select.json"
	ObjectParamsFile = "obj_param.txt"
	ManifestFile     = "manifest.json"
	SceneParamsFile  = "scene_params.json"
	SceneGinFile     = "scene.gin"
	FeedbackFile     = "feedback.json"
	RunStateFile     = "run_state.json"
)

// producers names the stage that writes each artifact.
var producers = map[string]schema.Stage{
	SelectionFile:    schema.StageExtract,
	ObjectParamsFile: schema.StageSynthesize,
	ManifestFile:     schema.StagePlan,
	SceneParamsFile:  schema.StageResolve,
	SceneGinFile:     schema.StageSynthesize,
	FeedbackFile:     schema.StageCritique,
}

// Store reads and writes artifacts under one directory.
//
// Thread Safety: a Store has a single writer per file; concurrent readers
// are safe because writes are atomic renames.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore returns a store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger.With(slog.String("component", "artifacts"))}
}

// Dir returns the work directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the full path of a named artifact.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// Exists reports whether the artifact is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// WriteBytes atomically replaces the named artifact.
func (s *Store) WriteBytes(name string, data []byte) error {
	path := s.Path(name)
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("artifacts: write %s: %w", name, err)
	}
	s.logger.Debug("artifacts: wrote", slog.String("file", name), slog.Int("bytes", len(data)))
	return nil
}

// ReadBytes reads the named artifact. A missing file is a
// *schema.MissingArtifactError naming the producing stage.
func (s *Store) ReadBytes(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &schema.MissingArtifactError{Path: s.Path(name), Producer: producers[name]}
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: read %s: %w", name, err)
	}
	return data, nil
}

// WriteJSON writes v as indented JSON.
func (s *Store) WriteJSON(name string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("artifacts: encode %s: %w", name, err)
	}
	return s.WriteBytes(name, buf.Bytes())
}

// ReadJSON decodes the named artifact into v.
func (s *Store) ReadJSON(name string, v any) error {
	data, err := s.ReadBytes(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", schema.ErrParseFailure, name, err)
	}
	return nil
}

// WriteSelection writes obj_select.json as a one-element list.
func (s *Store) WriteSelection(r intent.Result) error {
	return s.WriteJSON(SelectionFile, []intent.Selection{r.Selection()})
}

// ReadSelection reads obj_select.json. A bare object is accepted too.
func (s *Store) ReadSelection() (intent.Result, error) {
	data, err := s.ReadBytes(SelectionFile)
	if err != nil {
		return intent.Result{}, err
	}
	var list []intent.Selection
	if err := json.Unmarshal(data, &list); err == nil {
		if len(list) == 0 {
			return intent.Result{}, fmt.Errorf("%w: %s is empty", schema.ErrParseFailure, SelectionFile)
		}
		return intent.FromSelection(list[0]), nil
	}
	var one intent.Selection
	if err := json.Unmarshal(data, &one); err != nil {
		return intent.Result{}, fmt.Errorf("%w: %s: %v", schema.ErrParseFailure, SelectionFile, err)
	}
	return intent.FromSelection(one), nil
}

// WriteManifest writes manifest.json.
func (s *Store) WriteManifest(m *schema.Manifest) error {
	return s.WriteJSON(ManifestFile, m)
}

// ReadManifest reads and validates manifest.json.
func (s *Store) ReadManifest() (*schema.Manifest, error) {
	var m schema.Manifest
	if err := s.ReadJSON(ManifestFile, &m); err != nil {
		return nil, err
	}
	m.Normalize()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteSceneParams writes the flat key→value object.
func (s *Store) WriteSceneParams(p *schema.ParameterSet) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.WriteJSON(SceneParamsFile, p.Flat())
}

// ReadSceneParams reads scene_params.json strictly against the scene
// schema. Every value comes back as carried-over.
func (s *Store) ReadSceneParams() (*schema.ParameterSet, error) {
	var raw map[string]any
	if err := s.ReadJSON(SceneParamsFile, &raw); err != nil {
		return nil, err
	}
	return schema.ParseFlat(schema.SceneSchema, raw, schema.ProvenanceCarriedOver)
}

// WriteConfig writes a compiled artifact's text under name.
func (s *Store) WriteConfig(name string, art *schema.ConfigArtifact) error {
	return s.WriteBytes(name, []byte(art.Text))
}

// ReadObjectParams parses obj_param.txt.
func (s *Store) ReadObjectParams() (*synthesizer.ObjectParams, error) {
	data, err := s.ReadBytes(ObjectParamsFile)
	if err != nil {
		return nil, err
	}
	return synthesizer.ParseObjectParams(string(data))
}

// WriteFeedback writes feedback.json.
func (s *Store) WriteFeedback(r critic.Report) error {
	return s.WriteJSON(FeedbackFile, r)
}

// ReadFeedback reads feedback.json.
func (s *Store) ReadFeedback() (critic.Report, error) {
	var r critic.Report
	err := s.ReadJSON(FeedbackFile, &r)
	return r, err
}

// writeFileAtomic writes to a temp file in the target directory, fsyncs it,
// renames it over path and fsyncs the directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return syncDir(dir)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
