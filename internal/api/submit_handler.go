package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-annotator/internal/result"
	"github.com/heimdex/heimdex-annotator/internal/submit"
)

const maxSubmissionsLimit = 200

func submitHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := cfg.Session.Submit(r.Context())
		if err != nil {
			var verr *result.ValidationError
			if errors.As(err, &verr) {
				WriteJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
					Error:      verr.Error(),
					Code:       "SELECTION_OUT_OF_BOUNDS",
					Percentage: verr.Percentage,
					Min:        verr.Min,
					Max:        verr.Max,
				})
				return
			}
			if errors.Is(err, submit.ErrHostNotConnected) {
				WriteError(w, http.StatusConflict, err.Error(), "HOST_NOT_CONNECTED")
				return
			}
			cfg.Logger.Error("submission failed", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to deliver results", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusCreated, SubmissionToResponse(sub))
	}
}

func listSubmissionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Repository == nil {
			WriteError(w, http.StatusServiceUnavailable, "submission ledger is disabled", "UNAVAILABLE")
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxSubmissionsLimit)
		}

		subs, err := cfg.Repository.ListSubmissions(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list submissions", "INTERNAL_ERROR")
			return
		}

		resp := SubmissionsResponse{Submissions: make([]SubmissionResponse, len(subs))}
		for i, s := range subs {
			resp.Submissions[i] = SubmissionToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getSubmissionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Repository == nil {
			WriteError(w, http.StatusServiceUnavailable, "submission ledger is disabled", "UNAVAILABLE")
			return
		}

		id := chi.URLParam(r, "id")
		sub, err := cfg.Repository.GetSubmission(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if sub == nil {
			WriteError(w, http.StatusNotFound, "submission not found", "NOT_FOUND")
			return
		}

		resp := SubmissionDetailResponse{SubmissionResponse: SubmissionToResponse(sub)}
		if len(sub.Document) > 0 {
			resp.Document = json.RawMessage(sub.Document)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
