package handlers

import (
	"github.com/gorilla/mux"
)

func RegisterRoutes(r *mux.Router, h *ArchiveHandler) {
	r.HandleFunc("/healthz", HandleHealth).Methods("GET")

	api := r.PathPrefix("/api/archives").Subrouter()
	api.HandleFunc("/list", h.HandleList).Methods("GET")
	api.HandleFunc("/graph/{date}", h.HandleGraph).Methods("GET")
	api.HandleFunc("/data/{date}", h.HandleData).Methods("GET")
}
