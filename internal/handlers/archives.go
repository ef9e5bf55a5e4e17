package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/etnamonitor/etna-archive/internal/archive"
	"github.com/etnamonitor/etna-archive/internal/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type archiveSummary struct {
	Date       string `json:"date"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	Compressed bool   `json:"compressed"`
	Modified   string `json:"modified"`
}

func (h *ArchiveHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var start, end time.Time
	query := r.URL.Query()

	if value := query.Get("start_date"); value != "" {
		parsed, err := parseDate(value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start_date, expected YYYY-MM-DD")
			return
		}
		start = parsed
	}
	if value := query.Get("end_date"); value != "" {
		parsed, err := parseDate(value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date, expected YYYY-MM-DD")
			return
		}
		end = parsed
	}

	entries, err := h.manager.ListArchives(start, end)
	if err != nil {
		h.log.WithError(err).Error("Archive listing failed")
		writeError(w, http.StatusInternalServerError, "Archive listing failed")
		return
	}

	summaries := make([]archiveSummary, 0, len(entries))
	for _, entry := range entries {
		summaries = append(summaries, archiveSummary{
			Date:       entry.Date.Format("2006-01-02"),
			Path:       entry.Path,
			Size:       entry.Size,
			Compressed: entry.Compressed,
			Modified:   entry.Modified.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"count":    len(summaries),
		"archives": summaries,
	})
}

func (h *ArchiveHandler) HandleGraph(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(mux.Vars(r)["date"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
		return
	}

	content, err := h.manager.GetArchive(date)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No archive for this date")
			return
		}
		h.log.WithFields(logrus.Fields{
			"date":  date.Format("2006-01-02"),
			"error": err,
		}).Error("Archive retrieval failed")
		writeError(w, http.StatusInternalServerError, "Archive retrieval failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", fmt.Sprint(len(content)))
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

func (h *ArchiveHandler) HandleData(w http.ResponseWriter, r *http.Request) {
	dateStr := mux.Vars(r)["date"]
	if _, err := parseDate(dateStr); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
		return
	}

	var samples []models.GraphSample
	if err := h.db.WithContext(r.Context()).
		Where("date = ?", dateStr).
		Order("timestamp asc").
		Find(&samples).Error; err != nil {
		h.log.WithFields(logrus.Fields{
			"date":  dateStr,
			"error": err,
		}).Error("Graph sample query failed")
		writeError(w, http.StatusInternalServerError, "Data query failed")
		return
	}

	data := make([]map[string]interface{}, 0, len(samples))
	for _, sample := range samples {
		data = append(data, map[string]interface{}{
			"timestamp": sample.Timestamp.UTC().Format(time.RFC3339),
			"value":     sample.Value,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"date":  dateStr,
		"count": len(data),
		"data":  data,
	})
}
