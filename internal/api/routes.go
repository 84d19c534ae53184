package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heimdex/heimdex-annotator/internal/config"
	"github.com/heimdex/heimdex-annotator/internal/realtime"
	"github.com/heimdex/heimdex-annotator/internal/selection"
	"github.com/heimdex/heimdex-annotator/internal/session"
)

const defaultSubmitLimit = 10

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.AllowedOrigins...))

	r.Get("/health", healthHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/session", sessionHandler(cfg))
	r.Get("/videos", listVideosHandler(cfg))
	r.Get("/segments", listSegmentsHandler(cfg))
	r.Get("/selection", selectionHandler(cfg))
	r.Post("/selection/toggle", toggleHandler(cfg))

	r.Route("/videos/{key}", func(r chi.Router) {
		r.Post("/include-current", includeCurrentHandler(cfg))
		r.Post("/include", includeAtHandler(cfg))
		r.Post("/seek", seekHandler(cfg))
		r.Post("/preview", startPreviewHandler(cfg))
		r.Delete("/preview", stopPreviewHandler(cfg))
	})
	r.Post("/previews/stop", stopAllHandler(cfg))

	r.Post("/segments/{id}/jump", jumpHandler(cfg))
	r.Post("/segments/{id}/preview", previewSegmentHandler(cfg))

	limit := cfg.SubmitLimit
	if limit <= 0 {
		limit = defaultSubmitLimit
	}
	r.With(SubmitRateLimit(limit)).Post("/submit", submitHandler(cfg))
	r.Get("/submissions", listSubmissionsHandler(cfg))
	r.Get("/submissions/{id}", getSubmissionHandler(cfg))

	r.Get("/export/edl", exportEDLHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Get("/media/*", mediaHandler(cfg))
		r.Head("/media/*", mediaHandler(cfg))
	})

	r.Get("/ws", wsHandler(cfg, realtime.RoleUI))
	r.Get("/ws/host", wsHandler(cfg, realtime.RoleHost))
	r.Get("/ws/player/{key}", playerHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:     "ok",
			Version:    config.Version,
			UptimeS:    uptime,
			InstanceID: cfg.InstanceID,
		})
	}
}

func sessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.Status())
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := cfg.Session.Videos(r.Context())
		if err != nil {
			cfg.Logger.Error("failed to resolve video urls", "error", err)
			WriteError(w, http.StatusBadGateway, "failed to resolve video urls", "ASSET_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, VideosResponse{Videos: videos})
	}
}

func listSegmentsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		segs, err := cfg.Session.Segments(r.URL.Query().Get("video"))
		if err != nil {
			writeSessionError(w, err)
			return
		}
		if segs == nil {
			segs = []session.SegmentView{}
		}
		WriteJSON(w, http.StatusOK, SegmentsResponse{Segments: segs})
	}
}

func selectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := cfg.Session.Status()
		WriteJSON(w, http.StatusOK, SelectionResponse{
			Segments:         cfg.Session.Selection(),
			SelectedSegments: st.SelectedSegments,
			SelectedDuration: st.SelectedDuration,
			Percentage:       st.Percentage,
		})
	}
}

func toggleHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ToggleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.SegmentID == "" {
			WriteError(w, http.StatusBadRequest, "segment_id is required", "BAD_REQUEST")
			return
		}

		selected, err := cfg.Session.Toggle(req.SegmentID)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ToggleResponse{SegmentID: req.SegmentID, Selected: selected})
	}
}

func includeCurrentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seg, added, err := cfg.Session.IncludeCurrent(chi.URLParam(r, "key"))
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, IncludeResponse{Segment: seg, Added: added})
	}
}

func includeAtHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IncludeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Time == nil {
			WriteError(w, http.StatusBadRequest, "time is required", "BAD_REQUEST")
			return
		}

		seg, added, err := cfg.Session.IncludeAt(chi.URLParam(r, "key"), *req.Time)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, IncludeResponse{Segment: seg, Added: added})
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Fraction == nil {
			WriteError(w, http.StatusBadRequest, "fraction is required", "BAD_REQUEST")
			return
		}

		if err := cfg.Session.Seek(chi.URLParam(r, "key"), *req.Fraction); err != nil {
			writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func startPreviewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		started, err := cfg.Session.StartPreview(key)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, PreviewResponse{VideoKey: key, Started: started})
	}
}

func stopPreviewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stopped, err := cfg.Session.StopPreview(chi.URLParam(r, "key"))
		if err != nil {
			writeSessionError(w, err)
			return
		}
		n := 0
		if stopped {
			n = 1
		}
		WriteJSON(w, http.StatusOK, StopResponse{Stopped: n})
	}
}

func stopAllHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, StopResponse{Stopped: cfg.Session.StopAll()})
	}
}

func jumpHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.Jump(chi.URLParam(r, "id")); err != nil {
			writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func previewSegmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.PreviewSegment(chi.URLParam(r, "id")); err != nil {
			writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Assets == nil {
			WriteError(w, http.StatusNotFound, "local media is not configured", "NOT_FOUND")
			return
		}
		rel := chi.URLParam(r, "*")
		if err := cfg.Assets.ServeAsset(w, r, rel); err != nil {
			cfg.Logger.Error("media error", "error", err, "path", rel)
		}
	}
}

func wsHandler(cfg ServerConfig, role realtime.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Hub.ServeWS(w, r, role)
	}
}

func playerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Players.ServeWS(w, r, chi.URLParam(r, "key"))
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownVideo):
		WriteError(w, http.StatusNotFound, err.Error(), "VIDEO_NOT_FOUND")
	case errors.Is(err, session.ErrUnknownSegment):
		WriteError(w, http.StatusNotFound, err.Error(), "SEGMENT_NOT_FOUND")
	case errors.Is(err, session.ErrInvalidFraction):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, session.ErrDurationUnknown):
		WriteError(w, http.StatusConflict, err.Error(), "DURATION_UNKNOWN")
	case errors.Is(err, selection.ErrNoSegmentAtPosition):
		WriteError(w, http.StatusUnprocessableEntity, session.NoSegmentMessage, "NO_SEGMENT_AT_POSITION")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
