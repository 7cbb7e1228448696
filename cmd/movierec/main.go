// Command movierec 是推荐服务的运维入口。
//
//	movierec [-config movierec.yaml] [-fixtures data.json] recommend -user 7 -n 10
//	movierec record -user 7 -item 42
//	movierec train -epochs 3
//	movierec serve-train -metrics-addr :9090
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/movierec/checkpoint"
	"github.com/rushteam/movierec/config"
	"github.com/rushteam/movierec/logging"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logger := logging.Logger()
		logger.Error().Err(err).Msg("movierec failed")
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	global := flag.NewFlagSet("movierec", flag.ContinueOnError)
	cfgPath := global.String("config", "", "config file (yaml)")
	fixtures := global.String("fixtures", "", "load an in-memory catalog from this JSON file")
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		return errors.New("usage: movierec [flags] recommend|record|train|serve-train [command flags]")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, *fixtures)
	if err != nil {
		return err
	}
	defer a.Close()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "recommend":
		return cmdRecommend(ctx, a, cmdArgs, stdout)
	case "record":
		return cmdRecord(ctx, a, cmdArgs)
	case "train":
		return cmdTrain(ctx, a, cmdArgs, stdout)
	case "serve-train":
		return cmdServeTrain(ctx, a, cmdArgs)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdRecommend(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("recommend", flag.ContinueOnError)
	userID := fs.Int64("user", 0, "user id")
	n := fs.Int("n", 10, "number of recommendations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.reloader.Reload(ctx); err != nil {
		return err
	}
	resp, err := a.orchestrator.Recommend(ctx, *userID, *n)
	if err != nil {
		return err
	}
	return writeJSON(stdout, resp)
}

func cmdRecord(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	userID := fs.Int64("user", 0, "user id")
	itemID := fs.Int64("item", 0, "movie id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.orchestrator.RecordInteraction(ctx, *userID, *itemID)
}

func cmdTrain(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	epochs := fs.Int("epochs", 0, "training epochs (0 = config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rep, err := a.trainer.Run(ctx, *epochs)
	if err != nil {
		return err
	}
	return writeJSON(stdout, rep)
}

// cmdServeTrain 常驻：定时训练，同时跟踪其他进程写入的 checkpoint，并暴露 /metrics。
func cmdServeTrain(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve-train", flag.ContinueOnError)
	metricsAddr := fs.String("metrics-addr", ":9090", "prometheus listen address, empty to disable")
	interval := fs.Duration("interval", a.cfg.Trainer.Interval, "training interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *interval <= 0 {
		return fmt.Errorf("serve-train: interval must be positive, got %s", *interval)
	}
	if _, err := a.reloader.Reload(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.trainer.RunEvery(gctx, *interval) })

	if a.cfg.Checkpoint.Watch && a.cfg.Checkpoint.Backend == "file" {
		w := &checkpoint.Watcher{Dir: a.cfg.Checkpoint.Dir, Reloader: a.reloader}
		g.Go(func() error { return w.Run(gctx) })
	} else if a.cfg.Checkpoint.ReloadInterval > 0 {
		g.Go(func() error { return a.reloader.Run(gctx, a.cfg.Checkpoint.ReloadInterval) })
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.logger.Info().Dur("interval", *interval).Str("metrics_addr", *metricsAddr).Msg("serve-train started")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
