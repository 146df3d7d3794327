// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed data/obj_nature.txt
var defaultKnowledgeCorpus string

//go:embed data/gin.txt
var defaultReferenceGin string

// DefaultKnowledgeCorpus returns the built-in object documentation corpus.
func DefaultKnowledgeCorpus() string { return defaultKnowledgeCorpus }

// DefaultReferenceGin returns the built-in reference gin bindings.
func DefaultReferenceGin() string { return defaultReferenceGin }

// ReadCorpus returns the file at path, or the built-in corpus when path is
// empty. A missing file yields "" and no error; callers treat an empty
// corpus as a normal condition.
func ReadCorpus(path string) (string, error) {
	if path == "" {
		return defaultKnowledgeCorpus, nil
	}
	return readOptional(path)
}

// ReadReferenceGin returns the file at path, or the built-in reference when
// path is empty.
func ReadReferenceGin(path string) (string, error) {
	if path == "" {
		return defaultReferenceGin, nil
	}
	return readOptional(path)
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("config: reading %s: %w", path, err)
	}
	return string(data), nil
}
