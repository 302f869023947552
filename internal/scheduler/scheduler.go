package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/wakestake/internal/logger"
	"github.com/wakestake/internal/service"
)

// Reconciler 是定时任务需要的补偿评估能力。
type Reconciler interface {
	Run(ctx context.Context) (service.ReconcileSummary, error)
}

// Scheduler 周期性执行补偿评估，同一时刻最多一个任务在跑。
type Scheduler struct {
	sched  gocron.Scheduler
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New 注册补偿任务，interval<=0 时返回 nil（交给外部 cron 调用 HTTP 接口）。
func New(reconciler Reconciler, interval time.Duration, log *logger.Logger) (*Scheduler, error) {
	if interval <= 0 || reconciler == nil {
		return nil, nil
	}
	if log == nil {
		log = logger.NewNop()
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{sched: sched, log: log, ctx: ctx, cancel: cancel}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			s.runOnce(reconciler)
		}),
		gocron.WithName("reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return nil, fmt.Errorf("register reconcile job: %w", err)
	}
	return s, nil
}

func (s *Scheduler) runOnce(reconciler Reconciler) {
	start := time.Now()
	summary, err := reconciler.Run(s.ctx)
	if err != nil {
		s.log.Error("scheduled reconcile failed", "error", err)
		return
	}
	s.log.Info("scheduled reconcile finished",
		"processed", summary.Processed,
		"violations", summary.Violations,
		"failed", summary.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Start 启动调度
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.sched.Start()
}

// Shutdown 取消正在执行的任务并停止调度
func (s *Scheduler) Shutdown() error {
	if s == nil {
		return nil
	}
	s.cancel()
	return s.sched.Shutdown()
}
