package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/devportal/backend/internal/services/scheduler"
)

// Indexer runs collators and writes their output into the engine
type Indexer struct {
	engine  Engine
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewIndexer creates an indexer for engine
func NewIndexer(engine Engine, logger *logging.Logger, metrics *monitoring.Metrics) *Indexer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Indexer{engine: engine, logger: logger, metrics: metrics}
}

// Run collates one document type and replaces its index
func (i *Indexer) Run(ctx context.Context, c Collator) error {
	start := time.Now()
	docs, err := c.Collate(ctx)
	if err != nil {
		return fmt.Errorf("collator %s failed: %w", c.Type(), err)
	}
	if err := i.engine.Index(ctx, c.Type(), docs); err != nil {
		return fmt.Errorf("indexing %s failed: %w", c.Type(), err)
	}
	if i.metrics != nil {
		i.metrics.SearchDocuments.WithLabelValues(c.Type()).Set(float64(len(docs)))
	}
	i.logger.Info("Search index rebuilt",
		zap.String("type", c.Type()),
		zap.Int("documents", len(docs)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// TaskID is the scheduler task id of a collator
func TaskID(docType string) string {
	return "search_index_" + docType
}

// Schedule registers one task per collator
func (i *Indexer) Schedule(sched *scheduler.Scheduler, regs []registration) error {
	for _, r := range regs {
		c := r.collator
		if err := sched.ScheduleTask(scheduler.TaskOptions{
			ID:       TaskID(c.Type()),
			Schedule: r.schedule,
			Fn: func(ctx context.Context) error {
				return i.Run(ctx, c)
			},
		}); err != nil {
			return err
		}
	}
	return nil
}
