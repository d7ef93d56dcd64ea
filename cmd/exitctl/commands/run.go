package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis/exitengine/internal/api"
	"github.com/wonny/aegis/exitengine/internal/api/handlers"
	"github.com/wonny/aegis/exitengine/internal/realtime/feed"
	"github.com/wonny/aegis/exitengine/internal/scheduler"
	"github.com/wonny/aegis/exitengine/internal/scheduler/jobs"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "청산 엔진 + ops API 실행",
	Long: `청산 엔진을 실행합니다.

이 명령어는:
- EXIT_EVAL_INTERVAL 주기로 가격 갱신 → 전체 포지션 평가
- 중복 active intent reconcile (EXIT_RECONCILE_INTERVAL)
- QUOTE_STREAM_URL 설정 시 websocket 시세 구독
- Redis 설정 시 프로파일 캐시 무효화 구독
- ops API 서버 (PORT)

Endpoints:
  GET  /health
  GET  /metrics
  GET  /api/exit/status
  GET  /api/exit/control            PUT /api/exit/control
  GET  /api/exit/profiles[/{id}]    PUT /api/exit/profiles/{id}
  GET  /api/exit/overrides          PUT|DELETE /api/exit/overrides/{symbol}
  GET  /api/exit/positions/{id}     PUT /api/exit/positions/{id}/profile|mode
  GET  /api/exit/intents[/{id}]     POST /api/exit/intents/{id}/approve|cancel|status

Example:
  go run ./cmd/exitctl run
  go run ./cmd/exitctl run --migrate --port 8091`,
	RunE: runEngine,
}

var (
	runPort    string
	runMigrate bool
)

const (
	streamSyncInterval = 10 * time.Second
	cacheTrimInterval  = 5 * time.Minute
	shutdownTimeout    = 30 * time.Second
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runPort, "port", "", "ops API 포트 (기본: PORT)")
	runCmd.Flags().BoolVar(&runMigrate, "migrate", false, "시작 전 스키마 적용")
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if runPort != "" {
		c.cfg.Port = runPort
	}
	log := c.log

	if runMigrate {
		if err := c.st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("Schema applied")
	}

	// 1. Scheduler
	sched := scheduler.New(log)
	jobList := []scheduler.Job{
		jobs.NewExitSweepJob(c.poller, c.engine, c.cfg.Exit.EvalInterval, log),
		jobs.NewReconcileJob(c.reconciler, c.cfg.Exit.ReconcileEvery, log),
		jobs.NewPriceCacheTrimJob(c.prices, c.poller, cacheTrimInterval, log),
	}

	// 2. Optional quote stream
	var stream *feed.StreamClient
	if c.cfg.Exit.QuoteStreamURL != "" {
		stream = feed.NewStreamClient(c.cfg.Exit.QuoteStreamURL, c.prices, log)
		jobList = append(jobList, jobs.NewStreamSyncJob(c.poller, stream, streamSyncInterval, log))
	}
	for _, j := range jobList {
		if err := sched.AddJob(j); err != nil {
			return err
		}
	}

	// 3. Ops API
	router := api.NewRouter(api.Handlers{
		Control:   handlers.NewControlHandler(c.st, c.governor, log),
		Profiles:  handlers.NewProfileHandler(c.st, c.st, c.admin, log),
		Positions: handlers.NewPositionHandler(c.st, c.st, c.resolver, c.admin, log),
		Intents:   handlers.NewIntentHandler(c.st, c.emitter, log),
		System:    handlers.NewSystemHandler(c.db, sched, c.prices),
	}, c.cfg.MetricsEnabled, log)
	server := api.NewServer(":"+c.cfg.Port, router, shutdownTimeout, log)

	// 4. Run until signal or first fatal error
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return server.Run(gctx) })

	g.Go(func() error {
		// 구독 실패 시 다른 프로세스 변경은 캐시 TTL로 수렴
		if err := c.resolver.Listen(gctx, c.rdb); err != nil {
			log.WithError(err).Warn("Profile invalidation listener stopped")
		}
		return nil
	})

	if stream != nil {
		g.Go(func() error { return stream.Run(gctx) })
	}

	sched.Start(gctx)
	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	log.WithFields(map[string]interface{}{
		"port":        c.cfg.Port,
		"interval":    c.cfg.Exit.EvalInterval.String(),
		"stale_after": c.cfg.Exit.StaleAfter.String(),
		"workers":     c.cfg.Exit.Workers,
		"redis":       c.rdb.Enabled(),
		"stream":      stream != nil,
	}).Info("Exit engine started")

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Exit engine stopped")
	return nil
}
