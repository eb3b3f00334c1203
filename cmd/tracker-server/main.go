// Command tracker-server runs the ingest endpoint: it listens for
// device connections, authenticates each session, streams track
// points into the per-session journal, and serves a Prometheus
// /metrics endpoint alongside the TCP listener.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/intelcon-group/triptracker/pkg/server/datamanager"
	"github.com/intelcon-group/triptracker/pkg/server/sessionbuffer"
	"github.com/intelcon-group/triptracker/pkg/server/tracker"
)

func main() {
	app := &cli.App{
		Name:  "tracker-server",
		Usage: "run the GPS trip tracker ingest endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":9010", Usage: "address the tracker endpoint listens on"},
			&cli.StringFlag{Name: "metrics-listen", Value: ":9011", Usage: "address the Prometheus /metrics endpoint listens on"},
			&cli.StringFlag{Name: "session-dir", Value: "./data/sessions", Usage: "directory for live per-session journal files"},
			&cli.StringFlag{Name: "trips-file", Value: "./data/trips.csv", Usage: "CSV of id,auth_key_hex,title seeding the in-memory trip registry"},
			&cli.StringFlag{Name: "banned-file", Value: "", Usage: "optional file of banned peer addresses, one per line"},
			&cli.StringFlag{Name: "log-file", Value: "./data/tracker-server.log", Usage: "rotating process log path"},
		},
		Action: runServer,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(c *cli.Context) error {
	log := newLogger(c.String("log-file")).Sugar()
	defer log.Sync()

	data := datamanager.NewInMemory()
	if err := loadTrips(c.String("trips-file"), data); err != nil {
		log.Fatalw("failed to load trips file", "error", err)
	}

	buffers, err := sessionbuffer.Open(c.String("session-dir"), log.Named("sessionbuffer"))
	if err != nil {
		log.Fatalw("failed to open session buffer directory", "error", err)
	}

	banned, err := loadBannedList(c.String("banned-file"))
	if err != nil {
		log.Fatalw("failed to load banned-address file", "error", err)
	}

	metrics := tracker.NewMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics)

	listener, err := net.Listen("tcp", c.String("listen"))
	if err != nil {
		log.Fatalw("failed to bind tracker listener", "error", err)
	}

	srv := tracker.New(listener, data, buffers, banned, metrics, log.Named("tracker"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Run(ctx) }()
	go func() { errCh <- serveMetrics(ctx, c.String("metrics-listen"), registry) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infow("shutting down", "signal", sig)
	case err := <-errCh:
		log.Errorw("server exited unexpectedly", "error", err)
	}

	cancel()
	return nil
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// loadTrips seeds the in-memory data manager from a CSV of
// id,auth_key_hex,title rows. Real deployments point trips-file at
// whatever exports from the operator's trip-management tooling; the
// relational schema behind it is out of scope here.
func loadTrips(path string, data *datamanager.InMemory) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return err
	}

	for _, row := range records {
		if len(row) < 2 {
			continue
		}
		id, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return fmt.Errorf("trips file: bad trip id %q: %w", row[0], err)
		}
		keyBytes, err := hex.DecodeString(row[1])
		if err != nil || len(keyBytes) != 32 {
			return fmt.Errorf("trips file: bad auth key for trip %d", id)
		}
		var key [32]byte
		copy(key[:], keyBytes)

		title := fmt.Sprintf("Trip %d", id)
		if len(row) >= 3 && row[2] != "" {
			title = row[2]
		}
		data.AddTrip(datamanager.Trip{ID: id, Title: title, AuthKey: key, StartTime: time.Now().UTC()})
	}
	return nil
}

func loadBannedList(path string) (tracker.StaticBanList, error) {
	list := tracker.StaticBanList{}
	if path == "" {
		return list, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return list, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		addr := scanner.Text()
		if addr == "" {
			continue
		}
		list[addr] = struct{}{}
	}
	return list, scanner.Err()
}

func newLogger(path string) *zap.Logger {
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
	})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), writer, zap.InfoLevel)
	return zap.New(core)
}
