package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/etnamonitor/etna-archive/internal/config"
	"github.com/etnamonitor/etna-archive/internal/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func LoggingMiddleware(logger *logrus.Logger, db *gorm.DB) func(http.Handler) http.Handler {
	log := logger.WithField("component", "http_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			ip := clientIP(r)

			fields := logrus.Fields{
				"method":    r.Method,
				"path":      r.URL.Path,
				"status":    rec.status,
				"duration":  duration,
				"client_ip": ip,
				"bytes":     rec.bytes,
			}
			// mux middleware runs after route matching, so the archive
			// date is already extracted for /api/archives/{graph,data}.
			if date := mux.Vars(r)["date"]; date != "" {
				fields["archive_date"] = date
			}
			log.WithFields(fields).Info("Request processed")

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()

				entry := models.AccessLog{
					Timestamp: start,
					Method:    r.Method,
					Path:      r.URL.Path,
					Status:    rec.status,
					Duration:  duration,
					ClientIP:  ip,
					BytesSent: rec.bytes,
				}

				if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
					log.WithError(err).Warn("Failed to save access log")
				}
			}()
		})
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter tracks one token bucket per client IP. All state lives on the
// instance so tests can build independent limiters.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
}

func NewRateLimiter(cfg *config.Config) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(cfg.RateLimit) / cfg.RateLimitWindow.Seconds()),
		burst:    cfg.RateLimit,
		ttl:      3 * time.Minute,
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now

	// Stale visitors are pruned inline; request volume here is a handful
	// of monitoring dashboards, not worth a janitor goroutine.
	for addr, vis := range rl.visitors {
		if now.Sub(vis.lastSeen) > rl.ttl {
			delete(rl.visitors, addr)
		}
	}

	return v.limiter.Allow()
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		var err error
		ip, _, err = net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
	}
	if strings.Contains(ip, ",") {
		parts := strings.Split(ip, ",")
		ip = strings.TrimSpace(parts[0])
	}
	return ip
}
