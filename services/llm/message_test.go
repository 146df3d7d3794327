// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadImage_SniffsPNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "front.bin")
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		t.Fatal(err)
	}
	img, err := LoadImage(path, "Front View:")
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if img.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", img.MIMEType)
	}
	if img.Caption != "Front View:" {
		t.Errorf("Caption = %q", img.Caption)
	}
}

func TestLoadImage_RejectsText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadImage(path, ""); err == nil {
		t.Fatal("expected error for non-image file")
	}
}

func TestImage_DataURL(t *testing.T) {
	img := Image{MIMEType: "image/jpeg", Data: []byte("hi")}
	if got := img.DataURL(); got != "data:image/jpeg;base64,aGk=" {
		t.Errorf("DataURL = %q", got)
	}
}

func TestSplitSystem(t *testing.T) {
	sys, rest := splitSystem([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "u"},
		{Role: RoleSystem, Content: "b"},
	})
	if sys != "a\n\nb" {
		t.Errorf("system = %q", sys)
	}
	if len(rest) != 1 || rest[0].Content != "u" {
		t.Errorf("rest = %+v", rest)
	}
}
