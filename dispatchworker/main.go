package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carecoord/welfare-dispatch/conf"
	"github.com/carecoord/welfare-dispatch/dispatch/components"
	"github.com/carecoord/welfare-dispatch/dispatch/database"
	"github.com/carecoord/welfare-dispatch/dispatch/health"
	"github.com/carecoord/welfare-dispatch/dispatchworker/queueing"
	"github.com/carecoord/welfare-dispatch/log"
)

type healthConfig struct {
	IntervalSec int `conf:"WORKER_HEALTH_INT_SEC"`
}

func main() {
	fmt.Println("Starting dispatchworker...")
	if err := run(); err != nil {
		log.Worker.Error(err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	comps, err := components.New(ctx)
	if err != nil {
		return err
	}
	defer comps.Close()

	sc, err := comps.NewScanner()
	if err != nil {
		return err
	}

	pool, err := database.NewPgxPool(ctx, comps.DBConfig)
	if err != nil {
		return err
	}
	defer pool.Close()

	queueCfg, err := queueing.LoadConfig()
	if err != nil {
		return err
	}
	q, err := queueing.StartRiver(ctx, pool, comps.Store, sc, queueCfg)
	if err != nil {
		return err
	}

	hcfg := &healthConfig{}
	if err := conf.Checkout(hcfg); err != nil {
		return err
	}
	if hcfg.IntervalSec > 0 {
		go logHealth(ctx, NewHealthLogger(health.NewHealthChecker(comps.DB), q), time.Duration(hcfg.IntervalSec)*time.Second)
	}

	<-ctx.Done()
	log.Worker.Info("Shutting down dispatchworker")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return q.Stop(stopCtx)
}

func logHealth(ctx context.Context, l *HealthLogger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Log(ctx)
		case <-ctx.Done():
			return
		}
	}
}
