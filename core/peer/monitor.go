package peer

import (
	"context"
	"time"

	"github.com/pyropy/dbs/core/chunkstore"
	"github.com/pyropy/dbs/core/metrics"
	"go.uber.org/zap"
)

// StorageMonitor periodically reports the local store to metrics and logs.
type StorageMonitor struct {
	store    *chunkstore.Store
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	interval time.Duration
}

func NewStorageMonitor(store *chunkstore.Store, m *metrics.Metrics, log *zap.SugaredLogger, interval time.Duration) *StorageMonitor {
	return &StorageMonitor{
		store:    store,
		metrics:  m,
		log:      log,
		interval: interval,
	}
}

// Start reports once and then on every tick until ctx is done.
func (s *StorageMonitor) Start(ctx context.Context) {
	s.Report(ctx)

	if s.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Report(ctx)
		case <-ctx.Done():
			return
		}
	}
}

type StorageReport struct {
	Chunks          int
	Bytes           int64
	UnderReplicated int
}

func (s *StorageMonitor) Report(ctx context.Context) (StorageReport, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		s.log.Errorw("monitor", "error", err)
		return StorageReport{}, err
	}

	report := StorageReport{Chunks: len(all), Bytes: s.store.UsedBytes()}
	for _, m := range all {
		if m.UnderReplicated() {
			report.UnderReplicated++
		}
	}

	s.metrics.StoredChunks.Set(float64(report.Chunks))
	s.metrics.StoredBytes.Set(float64(report.Bytes))
	s.metrics.UnderReplicated.Set(float64(report.UnderReplicated))

	s.log.Infow("monitor", "chunks", report.Chunks, "bytes", report.Bytes, "underReplicated", report.UnderReplicated)

	return report, nil
}
