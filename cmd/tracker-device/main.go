// Command tracker-device runs the on-device tracking pipeline: it owns
// the cellular modem transport, the GNSS actor, the storage service,
// the upload actor, and the state service, registers the state, GNSS and
// upload actors with a supervisor, and blocks until the process is asked
// to stop.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/intelcon-group/triptracker/pkg/device/gnss"
	"github.com/intelcon-group/triptracker/pkg/device/modem"
	"github.com/intelcon-group/triptracker/pkg/device/state"
	"github.com/intelcon-group/triptracker/pkg/device/storage"
	"github.com/intelcon-group/triptracker/pkg/device/supervisor"
	"github.com/intelcon-group/triptracker/pkg/device/upload"
)

func main() {
	app := &cli.App{
		Name:  "tracker-device",
		Usage: "run the GPS tracker on-device pipeline against a modem port",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "modem-device", Value: "/dev/ttyUSB2", Usage: "path to the cellular modem's AT/data UART"},
			&cli.StringFlag{Name: "storage-dir", Value: "./volume", Usage: "root of the removable-storage volume (CONFIG.CFG, SESSIONS/, STATE.CSV)"},
			&cli.StringFlag{Name: "log-file", Value: "./volume/tracker-device.log", Usage: "rotating process log path"},
		},
		Action: runDevice,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDevice(c *cli.Context) error {
	log := newLogger(c.String("log-file")).Sugar()
	defer log.Sync()

	storageSvc, cfg, err := storage.Open(c.String("storage-dir"), log.Named("storage"))
	if err != nil {
		log.Fatalw("failed to open removable storage volume", "error", err)
	}
	defer storageSvc.Close()

	port, err := os.OpenFile(c.String("modem-device"), os.O_RDWR, 0)
	if err != nil {
		log.Fatalw("failed to open modem port", "error", err)
	}
	defer port.Close()

	clk := clock.New()
	transport := modem.New(port, log.Named("modem"))

	power := gpioPowerControl{log: log.Named("modem-power")}
	bringup := modem.NewBringup(power, clk, log.Named("modem-reset"))
	if err := bringup.PowerOn(transport); err != nil {
		log.Fatalw("modem bringup failed", "error", err)
	}
	stateSvc := state.New(
		staticHighInput{},
		adcVoltage{log: log.Named("battery")},
		adcVoltage{log: log.Named("solar")},
		loggingLEDs{log: log.Named("leds")},
		loggingBuzzer{log: log.Named("buzzer")},
		clk,
		log.Named("state"),
	)

	gnssActor := gnss.New(transport, storageSvc, gnssLED{stateSvc}, stateSvc.Clock(), log.Named("gnss"))

	uploadActor := upload.New(
		transport,
		storageSvc,
		stateSvc,
		stateSvc,
		upload.Config{Server: cfg.Server, Port: cfg.Port, TripID: cfg.TripID, AuthKey: cfg.AuthKey},
		clk,
		log.Named("upload"),
	)

	sup := supervisor.New(staticLowPin{}, noopDeepSleeper{log: log.Named("sleep")}, clk, log.Named("supervisor"))
	sup.Register("state", stateSvc.Terminator())
	sup.Register("gnss", gnssActor.Terminator())
	sup.Register("upload", uploadActor.Terminator())

	errCh := make(chan error, 3)
	go func() { errCh <- runNamed("state.power-monitor", func() error { stateSvc.RunPowerMonitor(); return nil }) }()
	go func() { errCh <- runNamed("state.led-output", func() error { stateSvc.RunLEDOutput(); return nil }) }()
	go func() { errCh <- runNamed("gnss", gnssActor.Run) }()
	go func() { errCh <- runNamed("upload", uploadActor.Run) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infow("shutting down", "signal", sig)
	case err := <-errCh:
		log.Errorw("actor exited unexpectedly", "error", err)
	}

	sup.StopAll()
	return nil
}

func runNamed(name string, fn func() error) error {
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func newLogger(path string) *zap.Logger {
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), writer, zap.InfoLevel)
	return zap.New(core)
}

// The following adapters stand in for board-specific GPIO/ADC/UART
// wiring. None of that hardware exists in this environment; each
// adapter is the smallest thing that satisfies the package interfaces
// so the pipeline can be exercised end to end against a real or piped
// modem port.

type gpioPowerControl struct{ log *zap.SugaredLogger }

func (g gpioPowerControl) PowerOn()       { g.log.Info("power-on pulse") }
func (g gpioPowerControl) PowerOff()      { g.log.Info("power-off pulse") }
func (g gpioPowerControl) HardwareReset() { g.log.Info("hardware reset pulse") }

type staticHighInput struct{}

func (staticHighInput) IsHigh() bool { return true }

type staticLowPin struct{}

func (staticLowPin) IsHigh() bool { return false }

type adcVoltage struct{ log *zap.SugaredLogger }

func (a adcVoltage) ReadMV() (int, error) { return 3700, nil }

type loggingLEDs struct{ log *zap.SugaredLogger }

func (l loggingLEDs) Apply(p state.LEDPattern) { l.log.Debugw("led pattern", "pattern", p) }

type loggingBuzzer struct{ log *zap.SugaredLogger }

func (l loggingBuzzer) Sound() { l.log.Warn("buzzer sounding") }

type noopDeepSleeper struct{ log *zap.SugaredLogger }

func (n noopDeepSleeper) EnterDeepSleep() {
	n.log.Info("entering deep sleep")
	time.Sleep(time.Hour)
}

type gnssLED struct{ svc *state.Service }

func (g gnssLED) SetFixState(hasFix bool) { g.svc.SetFixState(hasFix) }
