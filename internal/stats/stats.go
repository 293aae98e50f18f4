// Package stats records login and transfer counters. All methods are
// fire-and-forget: failures are logged and never surface to the
// transfer path.
package stats

import (
	"context"
	"time"

	"github.com/fl1ckyexe/ftp-server/internal/logger"
	"github.com/fl1ckyexe/ftp-server/internal/repo"
)

const writeTimeout = 5 * time.Second

type Sink struct {
	stats *repo.Stats
}

func NewSink(stats *repo.Stats) *Sink {
	return &Sink{stats: stats}
}

func (s *Sink) OnLogin(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.stats.OnLogin(ctx, userID); err != nil {
		logger.Warn("stats: record login for user %d: %v", userID, err)
	}
}

func (s *Sink) OnUpload(userID, bytes int64) {
	if bytes <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.stats.AddUploaded(ctx, userID, bytes); err != nil {
		logger.Warn("stats: record upload for user %d: %v", userID, err)
	}
}

func (s *Sink) OnDownload(userID, bytes int64) {
	if bytes <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.stats.AddDownloaded(ctx, userID, bytes); err != nil {
		logger.Warn("stats: record download for user %d: %v", userID, err)
	}
}
