package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/heimdex/heimdex-annotator/internal/export"
)

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		frameRate := 30.0
		if v := q.Get("fps"); v != "" {
			fps, err := strconv.ParseFloat(v, 64)
			if err != nil || fps <= 0 || fps > 120 {
				WriteError(w, http.StatusBadRequest, "fps must be between 0 and 120", "BAD_REQUEST")
				return
			}
			frameRate = fps
		}

		if cfg.Session.Status().SelectedSegments == 0 {
			WriteError(w, http.StatusConflict, "no segments selected", "EMPTY_SELECTION")
			return
		}

		title := export.SanitizeName(q.Get("title"), 120)
		if title == "" {
			title = export.SanitizeName(cfg.Session.Metadata().City, 120)
		}
		if title == "" {
			title = "annotation"
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", title+".edl"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(cfg.Session.EDL(title, frameRate)))
	}
}
