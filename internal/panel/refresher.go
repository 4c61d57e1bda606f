package panel

import (
	"context"
	"sync"
	"time"

	"CryptoAgent/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Refresher runs a job on a fixed period. Overlapping ticks are skipped.
type Refresher struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewRefresher schedules job every interval (cron rounds it to whole seconds, minimum 1s).
// The job receives a context cancelled by Stop.
func NewRefresher(interval time.Duration, job func(ctx context.Context), l *logger.Logger) *Refresher {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: l}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	}))
	return &Refresher{cron: c, ctx: ctx, cancel: cancel}
}

// Start begins ticking.
func (r *Refresher) Start() { r.cron.Start() }

// Stop cancels the running tick, if any, and waits for it to return. Safe to call twice.
func (r *Refresher) Stop() {
	r.once.Do(func() {
		r.cancel()
		<-r.cron.Stop().Done()
	})
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, kv(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron: "+msg, append(kv(keysAndValues), logger.Error(err))...)
}

func kv(keysAndValues []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		k, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, logger.Any(k, keysAndValues[i+1]))
	}
	return fields
}
