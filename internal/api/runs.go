package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/sqlgate/sqlgate/internal/audit"
	"github.com/sqlgate/sqlgate/internal/observability"
	"github.com/sqlgate/sqlgate/internal/pipeline"
	"github.com/sqlgate/sqlgate/internal/script"
	"github.com/sqlgate/sqlgate/internal/storage"
)

const (
	RunIDHeader = observability.RunIDHeader

	// multipartOverhead leaves room for form boundaries and the case field.
	multipartOverhead = 64 << 10
)

var errScriptTooLarge = errors.New("script exceeds size limit")

type runRequest struct {
	CaseNumber string `json:"case_number"`
	Script     string `json:"script"`
}

type runsHandler struct {
	deps         Dependencies
	maxBytes     int64
	excerptLimit int
	casePattern  *regexp.Regexp
}

func (h *runsHandler) submit(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runner == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RUNNER_NOT_CONFIGURED", "pipeline runner is not configured", false, nil)
		return
	}

	request, err := h.decodeRunRequest(w, r)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) || errors.Is(err, errScriptTooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "SCRIPT_TOO_LARGE", "script exceeds size limit", false, map[string]any{"max_bytes": h.maxBytes})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid run request", false, map[string]any{"details": err.Error()})
		return
	}

	caseID := strings.TrimSpace(request.CaseNumber)
	if !h.casePattern.MatchString(caseID) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CASE_NUMBER", "case_number is missing or malformed", false, map[string]any{"pattern": h.casePattern.String()})
		return
	}

	if strings.TrimSpace(request.Script) == "" {
		if h.deps.DefaultScript == nil {
			writeError(r.Context(), w, http.StatusBadRequest, "SCRIPT_REQUIRED", "script is required", false, nil)
			return
		}
		request.Script, err = h.deps.DefaultScript()
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "DEFAULT_SCRIPT_UNAVAILABLE", "default script could not be loaded", false, map[string]any{"details": err.Error()})
			return
		}
	}

	traceID := observability.TraceIDFromContext(r.Context())
	result, err := h.deps.Runner.Run(r.Context(), pipeline.Request{CaseID: caseID, Script: request.Script})
	if err != nil {
		observability.ObserveRun(audit.StatusConnectionFailed, result.Duration())
		h.record(r, audit.FromResult(result, audit.StatusConnectionFailed, "", traceID, h.excerptLimit))

		var connErr *pipeline.ConnectionError
		if errors.As(err, &connErr) {
			writeRunError(r.Context(), w, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", err.Error(), true, result)
			return
		}
		writeRunError(r.Context(), w, http.StatusInternalServerError, "RUN_FAILED", err.Error(), false, result)
		return
	}
	if len(result.Outcomes) == 0 {
		writeRunError(r.Context(), w, http.StatusBadRequest, "NO_STATEMENTS", "script contains no executable statements", false, result)
		return
	}
	observeResult(result)

	data, err := h.deps.Packager.Bytes(result.Outcomes, result.Log)
	if err != nil {
		h.deps.Logger.ErrorContext(r.Context(), "package run archive failed", slog.String("run_id", result.RunID), slog.Any("error", err))
		writeRunError(r.Context(), w, http.StatusInternalServerError, "ARCHIVE_FAILED", "failed to package run archive", false, result)
		return
	}

	archiveKey := ""
	if h.deps.Archives != nil {
		info, err := h.deps.Archives.Save(r.Context(), storage.ArchiveRef{
			CaseID:     result.CaseID,
			RunID:      result.RunID,
			FinishedAt: result.FinishedAt,
		}, data)
		if err != nil {
			h.deps.Logger.WarnContext(r.Context(), "archive retention failed", slog.String("run_id", result.RunID), slog.Any("error", err))
		} else {
			archiveKey = info.Key
		}
	}
	h.record(r, audit.FromResult(result, audit.StatusCompleted, archiveKey, traceID, h.excerptLimit))

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archiveFileName(result)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set(RunIDHeader, result.RunID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *runsHandler) list(w http.ResponseWriter, r *http.Request) {
	if h.deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "run audit is not configured", false, nil)
		return
	}
	caseID := strings.TrimSpace(r.URL.Query().Get("case_number"))
	if !h.casePattern.MatchString(caseID) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CASE_NUMBER", "case_number is missing or malformed", false, nil)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = parsed
	}

	runs, err := h.deps.Audit.ListRunsByCase(r.Context(), caseID, limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_ERROR", "failed to list runs", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case_number": caseID, "runs": runs})
}

func (h *runsHandler) get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *runsHandler) archive(w http.ResponseWriter, r *http.Request) {
	if h.deps.Archives == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVES_NOT_CONFIGURED", "archive retention is not configured", false, nil)
		return
	}
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	if run.ArchiveKey == "" {
		writeError(r.Context(), w, http.StatusNotFound, "ARCHIVE_NOT_FOUND", "run has no retained archive", false, map[string]any{"run_id": run.RunID})
		return
	}

	reader, info, err := h.deps.Archives.Open(r.Context(), run.ArchiveKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "ARCHIVE_NOT_FOUND", "retained archive is missing", false, map[string]any{"run_id": run.RunID})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ARCHIVE_ERROR", "failed to open archive", true, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "run-"+run.RunID+".zip"))
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set(RunIDHeader, run.RunID)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		h.deps.Logger.WarnContext(r.Context(), "stream archive failed", slog.String("run_id", run.RunID), slog.Any("error", err))
	}
}

func (h *runsHandler) lookupRun(w http.ResponseWriter, r *http.Request) (audit.Run, bool) {
	if h.deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "run audit is not configured", false, nil)
		return audit.Run{}, false
	}
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "RUN_ID_REQUIRED", "run_id path parameter is required", false, nil)
		return audit.Run{}, false
	}
	run, err := h.deps.Audit.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "RUN_NOT_FOUND", "run not found", false, map[string]any{"run_id": runID})
			return audit.Run{}, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_ERROR", "failed to load run", true, map[string]any{"details": err.Error()})
		return audit.Run{}, false
	}
	return run, true
}

// decodeRunRequest accepts a multipart upload (file, case_number) or a JSON
// body. The script body is bounded by maxBytes in both forms.
func (h *runsHandler) decodeRunRequest(w http.ResponseWriter, r *http.Request) (runRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
		if err := r.ParseMultipartForm(h.maxBytes); err != nil {
			return runRequest{}, fmt.Errorf("parse multipart form: %w", err)
		}
		request := runRequest{
			CaseNumber: r.FormValue("case_number"),
			Script:     r.FormValue("script"),
		}
		file, _, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
			return request, nil
		case err != nil:
			return runRequest{}, fmt.Errorf("read script file: %w", err)
		}
		defer func() { _ = file.Close() }()
		body, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
		if err != nil {
			return runRequest{}, fmt.Errorf("read script file: %w", err)
		}
		if int64(len(body)) > h.maxBytes {
			return runRequest{}, errScriptTooLarge
		}
		request.Script = string(body)
		return request, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	var request runRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		return runRequest{}, fmt.Errorf("decode run request: %w", err)
	}
	if int64(len(request.Script)) > h.maxBytes {
		return runRequest{}, errScriptTooLarge
	}
	return request, nil
}

func (h *runsHandler) record(r *http.Request, run audit.Run) {
	if h.deps.Audit == nil {
		return
	}
	if err := h.deps.Audit.RecordRun(r.Context(), run); err != nil {
		h.deps.Logger.WarnContext(r.Context(), "record run audit failed", slog.String("run_id", run.RunID), slog.Any("error", err))
	}
}

func observeResult(result pipeline.Result) {
	observability.ObserveRun(audit.StatusCompleted, result.Duration())
	for _, outcome := range result.Outcomes {
		observability.ObserveStatement(string(outcome.StatementKind), string(outcome.Kind))
		if outcome.StatementKind == script.KindDefinition {
			continue
		}
		if outcome.Estimate == nil {
			observability.ObserveAdmission(!outcome.Rejected, 0, true)
			continue
		}
		observability.ObserveAdmission(!outcome.Rejected, outcome.Estimate.Rows, outcome.Estimate.Unbounded)
	}
}

func archiveFileName(result pipeline.Result) string {
	return fmt.Sprintf("query_results_%s_%s.zip", result.CaseID, result.RunID)
}

// ScriptFile returns a DefaultScript loader that rereads path on every call,
// so edits apply to the next run.
func ScriptFile(path string, maxBytes int64) func() (string, error) {
	return func() (string, error) {
		file, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open default script: %w", err)
		}
		defer func() { _ = file.Close() }()
		body, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			return "", fmt.Errorf("read default script: %w", err)
		}
		if int64(len(body)) > maxBytes {
			return "", errScriptTooLarge
		}
		return string(body), nil
	}
}
