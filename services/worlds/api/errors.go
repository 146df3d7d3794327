// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"net/http"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/controller"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/pipeline"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/render"
	"github.com/AleutianAI/AleutianWorlds/services/worlds/schema"
)

// errorResponse maps a stage error to an HTTP status and body.
func errorResponse(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error()}
	var se *schema.StageError
	if errors.As(err, &se) {
		resp.Stage = string(se.Stage)
	}
	var mae *schema.MissingArtifactError
	if errors.As(err, &mae) {
		resp.Producer = string(mae.Producer)
	}

	switch {
	case errors.Is(err, controller.ErrRunNotFound):
		resp.Code = "RUN_NOT_FOUND"
		return http.StatusNotFound, resp
	case errors.Is(err, schema.ErrMissingCorpus):
		resp.Code = "NO_DOCUMENTATION"
		return http.StatusNotFound, resp
	case errors.Is(err, schema.ErrSchemaViolation):
		resp.Code = "SCHEMA_VIOLATION"
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, schema.ErrMissingArtifact):
		resp.Code = "MISSING_ARTIFACT"
		return http.StatusConflict, resp
	case errors.Is(err, schema.ErrParseFailure):
		resp.Code = "PARSE_FAILURE"
		return http.StatusBadGateway, resp
	case errors.Is(err, schema.ErrOracle):
		resp.Code = "ORACLE_UNAVAILABLE"
		return http.StatusBadGateway, resp
	case errors.Is(err, render.ErrRenderFailed):
		resp.Code = "RENDER_FAILED"
		return http.StatusBadGateway, resp
	case errors.Is(err, pipeline.ErrNotConfigured):
		resp.Code = "STAGE_NOT_CONFIGURED"
		return http.StatusServiceUnavailable, resp
	default:
		resp.Code = "INTERNAL_ERROR"
		return http.StatusInternalServerError, resp
	}
}
