package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/dispatch"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/notify"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/ratelimit"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/reconcile"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/store"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/tunnel"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// Agent-facing Redis lists. Device connection workers push job outcomes
// onto resultsKey and periodic interface reports onto syncKey.
const (
	resultsKey  = "jobresults"
	syncKey     = "devicesync"
	popInterval = 5 * time.Second
)

// jobResult is one terminal job outcome reported by an agent worker.
type jobResult struct {
	Org     string `json:"org"`
	JobID   string `json:"jobId"`
	Outcome string `json:"outcome"` // complete | error | removed
}

// syncMessage is one device's periodic interface report.
type syncMessage struct {
	Org        string                 `json:"org"`
	DeviceID   string                 `json:"deviceId"`
	Interfaces []model.InterfaceFacts `json:"interfaces"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := st.Connect(ctx); err != nil {
		return err
	}
	defer st.Close()

	limiter := ratelimit.NewLimiter(cfg.PublicAddrLimit.Threshold, cfg.PublicAddrLimit.Window)
	limiter.StartCleanup(ctx, time.Minute, time.Hour)

	sink := notify.LogSink{}
	dispatcher := dispatch.New(st, dispatch.NewRedisQueue(st.Client()), sink)
	lifecycle := tunnel.NewLifecycle(st, limiter)
	engine := reconcile.New(st, lifecycle, limiter, dispatcher, sink)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	util.WithField("redis", cfg.Redis.Addr).Info("Manager started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		consumeResults(ctx, st.Client(), dispatcher)
	}()
	go func() {
		defer wg.Done()
		consumeSyncs(ctx, st.Client(), engine)
	}()
	wg.Wait()

	util.Info("Manager stopped")
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		util.Errorf("metrics endpoint: %v", err)
	}
}

// consumeResults drains job outcomes and routes them to the terminal
// callbacks. A malformed entry is logged and dropped; the loop never
// stops on bad input.
func consumeResults(ctx context.Context, client *redis.Client, d *dispatch.Dispatcher) {
	for {
		entry, ok := pop(ctx, client, resultsKey)
		if !ok {
			return
		}
		if entry == "" {
			continue
		}

		var res jobResult
		if err := json.Unmarshal([]byte(entry), &res); err != nil {
			util.Warnf("dropping malformed job result: %v", err)
			continue
		}

		var err error
		switch res.Outcome {
		case "complete":
			err = d.HandleComplete(ctx, res.Org, res.JobID)
		case "error":
			err = d.HandleError(ctx, res.Org, res.JobID)
		case "removed":
			err = d.HandleRemoved(ctx, res.Org, res.JobID)
		default:
			util.WithJob(res.JobID).Warnf("dropping job result with unknown outcome %q", res.Outcome)
			continue
		}
		if err != nil {
			util.WithJob(res.JobID).Errorf("handling %s result: %v", res.Outcome, err)
		}
	}
}

// consumeSyncs drains device interface reports into the reconciliation
// engine.
func consumeSyncs(ctx context.Context, client *redis.Client, e *reconcile.Engine) {
	for {
		entry, ok := pop(ctx, client, syncKey)
		if !ok {
			return
		}
		if entry == "" {
			continue
		}

		var msg syncMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			util.Warnf("dropping malformed sync message: %v", err)
			continue
		}
		if err := e.DeviceSync(ctx, msg.Org, msg.DeviceID, msg.Interfaces); err != nil {
			util.WithDevice(msg.DeviceID).Errorf("device sync: %v", err)
		}
	}
}

// pop blocks on the list until an entry arrives or ctx is done. The
// second return is false when the consumer should exit.
func pop(ctx context.Context, client *redis.Client, key string) (string, bool) {
	vals, err := client.BRPop(ctx, popInterval, key).Result()
	if err == redis.Nil {
		return "", true
	}
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return "", false
		}
		util.Errorf("reading %s: %v", key, err)
		time.Sleep(time.Second)
		return "", true
	}
	// BRPOP returns [key, value].
	if len(vals) != 2 {
		return "", true
	}
	return vals[1], true
}
