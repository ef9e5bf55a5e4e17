package poller

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/etnamonitor/etna-archive/internal/archive"
	"github.com/etnamonitor/etna-archive/internal/config"
	"github.com/etnamonitor/etna-archive/internal/models"
	"github.com/etnamonitor/etna-archive/internal/storage"
	"github.com/etnamonitor/etna-archive/internal/upstream"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Poller fetches the current daily graph from the agency feed once per
// interval and hands it to the archive manager. Failures are logged and the
// loop keeps running; archiving must never take down the live fetch.
type Poller struct {
	manager *archive.Manager
	client  *upstream.Client
	db      *gorm.DB
	mirror  storage.Mirror
	cfg     *config.Config
	limiter *rate.Limiter
	log     *logrus.Entry
}

func New(logger *logrus.Logger, cfg *config.Config, manager *archive.Manager, client *upstream.Client, db *gorm.DB, mirror storage.Mirror) *Poller {
	return &Poller{
		manager: manager,
		client:  client,
		db:      db,
		mirror:  mirror,
		cfg:     cfg,
		// Two upstream requests per cycle (graph + status), never bursty.
		limiter: rate.NewLimiter(rate.Every(30*time.Second), 2),
		log:     logger.WithField("component", "poller"),
	}
}

func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.log.WithField("interval", p.cfg.PollInterval).Info("Starting graph poller")

	p.runCycle(ctx)

	for {
		select {
		case <-ticker.C:
			p.runCycle(ctx)
		case <-ctx.Done():
			p.log.Info("Stopping graph poller")
			return
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	log := p.log.WithField("operation", "poll_cycle")

	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	payload, err := p.client.FetchGraph(ctx)
	if err != nil {
		log.WithError(err).Error("Graph fetch failed")
		return
	}

	now := time.Now().UTC()
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	path, err := p.manager.SaveDailyGraph(payload, date, p.cfg.ArchiveCompress)
	if err != nil {
		log.WithFields(logrus.Fields{
			"date":  date.Format("2006-01-02"),
			"error": err,
		}).Error("Failed to archive daily graph")
	} else if p.mirror != nil {
		p.mirrorArchive(ctx, log, path, date)
	}

	p.storeStatus(ctx, log)
}

func (p *Poller) mirrorArchive(ctx context.Context, log *logrus.Entry, path string, date time.Time) {
	f, err := os.Open(path)
	if err != nil {
		log.WithError(err).Warn("Failed to open archive for mirroring")
		return
	}
	defer f.Close()

	key, err := filepath.Rel(p.cfg.ArchiveBasePath, path)
	if err != nil {
		key = filepath.Base(path)
	}
	key = filepath.ToSlash(key)

	if err := p.mirror.Put(ctx, key, f, date.Format("2006-01-02")); err != nil {
		log.WithFields(logrus.Fields{
			"key":   key,
			"error": err,
		}).Warn("Off-site mirror upload failed")
		return
	}
	log.WithField("key", key).Debug("Archive mirrored off-site")
}

func (p *Poller) storeStatus(ctx context.Context, log *logrus.Entry) {
	points, err := p.client.FetchStatus(ctx)
	if err != nil {
		log.WithError(err).Warn("Status fetch failed")
		return
	}
	if len(points) == 0 {
		return
	}

	samples := make([]models.GraphSample, 0, len(points))
	for _, pt := range points {
		samples = append(samples, models.GraphSample{
			Date:      pt.Timestamp.UTC().Format("2006-01-02"),
			Timestamp: pt.Timestamp.UTC(),
			Value:     pt.Value,
		})
	}

	if err := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&samples).Error; err != nil {
		log.WithError(err).Warn("Failed to store graph samples")
		return
	}
	log.WithField("count", len(samples)).Debug("Graph samples stored")
}
