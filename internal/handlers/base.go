package handlers

import (
	"time"

	"github.com/etnamonitor/etna-archive/internal/archive"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ArchiveHandler struct {
	manager *archive.Manager
	db      *gorm.DB
	log     *logrus.Entry
}

func NewArchiveHandler(logger *logrus.Logger, manager *archive.Manager, db *gorm.DB) *ArchiveHandler {
	return &ArchiveHandler{
		manager: manager,
		db:      db,
		log:     logger.WithField("component", "archive_handler"),
	}
}

func parseDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", value)
}
