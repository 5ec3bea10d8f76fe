package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	loggerKit "github.com/superj80820/streamproc/kit/logger"
	ormKit "github.com/superj80820/streamproc/kit/orm"
	utilKit "github.com/superj80820/streamproc/kit/util"
	"github.com/superj80820/streamproc/logstream"
	"github.com/superj80820/streamproc/logstream/kafkalog"
	"github.com/superj80820/streamproc/logstream/memorylog"
	"github.com/superj80820/streamproc/matchingdemo"
	"github.com/superj80820/streamproc/metrics/promsink"
	"github.com/superj80820/streamproc/processor"
	"github.com/superj80820/streamproc/snapshotstore"
	"github.com/superj80820/streamproc/snapshotstore/fsstore"
	"github.com/superj80820/streamproc/snapshotstore/ormstore"
)

const (
	defaultControllerName = "matching-demo"
	defaultProducerID     = "streamprocd"
)

func main() {
	var (
		logBackend      = utilKit.GetEnvString("LOG_BACKEND", "memory") // memory|kafka
		snapshotBackend = utilKit.GetEnvString("SNAPSHOT_BACKEND", "fs") // fs|postgres
		kafkaBrokers    = utilKit.GetEnvString("KAFKA_BROKERS", "localhost:9092")
		kafkaTopic      = utilKit.GetEnvString("KAFKA_TOPIC", "streamproc-orders")
		snapshotDir     = utilKit.GetEnvString("SNAPSHOT_DIR", "./snapshots")
		postgresDSN     = utilKit.GetEnvString("POSTGRES_DSN", "")
		metricsAddr     = utilKit.GetEnvString("METRICS_ADDR", ":9094")
		snapshotPeriod  = time.Duration(utilKit.GetEnvInt64("SNAPSHOT_PERIOD_SECONDS", 30)) * time.Second
		env             = utilKit.GetEnvString("ENV", "development")
	)

	logrusLogger := logrus.New()
	logrusLogger.Out = os.Stderr
	logrusLogger.Formatter = &logrus.JSONFormatter{}
	if env == "development" {
		logrusLogger.SetLevel(logrus.DebugLevel)
	}
	logger := loggerKit.NewLogger(logrusLogger)

	ctx, cancelBoot := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelBoot()

	reader, writer, closeLog, err := openLog(ctx, logBackend, kafkaBrokers, kafkaTopic)
	if err != nil {
		logger.Log("msg", "open log failed", "err", err)
		os.Exit(1)
	}
	defer closeLog()

	store, err := openSnapshotStore(snapshotBackend, snapshotDir, postgresDSN)
	if err != nil {
		logger.Log("msg", "open snapshot store failed", "err", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	sink := promsink.New(registry, defaultControllerName)

	state := matchingdemo.NewState()
	streamProcessor := matchingdemo.NewProcessor(state)

	ctrl := processor.New(
		defaultControllerName,
		defaultProducerID,
		reader,
		writer,
		store,
		streamProcessor,
		sink,
		logger,
		processor.WithEventFilter(func(r logstream.Record) bool { return r.ProducerID != defaultProducerID }),
		processor.WithSnapshotPeriod(snapshotPeriod),
	)

	var g run.Group
	{
		runCtx, cancelRun := context.WithCancel(context.Background())
		g.Add(func() error {
			if err := ctrl.Open(runCtx); err != nil {
				return err
			}
			return ctrl.Wait(context.Background())
		}, func(err error) {
			cancelRun()
			if closeErr := ctrl.Close(context.Background()); closeErr != nil {
				logger.Log("msg", "controller close failed", "err", closeErr)
			}
		})
	}
	{
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		g.Add(func() error {
			return srv.ListenAndServe()
		}, func(err error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})
	}
	{
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		cancelCh := make(chan struct{})
		g.Add(func() error {
			select {
			case <-sigCh:
				return nil
			case <-cancelCh:
				return nil
			}
		}, func(err error) {
			close(cancelCh)
		})
	}

	if err := g.Run(); err != nil {
		logger.Log("msg", "streamprocd exited", "err", err)
	}
}

func openLog(ctx context.Context, backend, brokers, topic string) (logstream.LogReader, logstream.LogWriter, func(), error) {
	switch backend {
	case "kafka":
		log, err := kafkalog.Open(ctx, brokers, topic, 0)
		if err != nil {
			return nil, nil, nil, err
		}
		return log.Reader(), log.Writer(), func() { log.Close() }, nil
	default:
		log := memorylog.New()
		return log.Reader(), log.Writer(), func() {}, nil
	}
}

func openSnapshotStore(backend, dir, postgresDSN string) (snapshotstore.Store, error) {
	switch backend {
	case "postgres":
		return ormstore.Open(ormKit.UsePostgres(postgresDSN))
	default:
		return fsstore.Open(dir)
	}
}
