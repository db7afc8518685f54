package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cjeanneret/PtzGo/internal/config"
	"github.com/cjeanneret/PtzGo/internal/debug"
	"github.com/cjeanneret/PtzGo/internal/errs"
	"github.com/cjeanneret/PtzGo/internal/hw/camera"
	"github.com/cjeanneret/PtzGo/internal/hw/gpio"
	"github.com/cjeanneret/PtzGo/internal/launcher"
	"github.com/cjeanneret/PtzGo/internal/logic/capture"
	"github.com/cjeanneret/PtzGo/internal/logic/script"
	"github.com/cjeanneret/PtzGo/internal/storage"
	"github.com/cjeanneret/PtzGo/internal/web"
)

// options holds the parsed command line.
type options struct {
	configPath      string
	runPath         string
	saveDir         string
	interval        float64 // seconds, 0 = run once
	maxRuns         int
	probe           bool
	web             *webPortFlag
	installLauncher bool
	desktop         bool
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("ptzgo: ")

	// CLI flags
	opts := options{web: &webPortFlag{defaultPort: 8080}}
	flag.Var(opts.web, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	flag.StringVar(&opts.configPath, "config", filepath.Join("configs", "default.yaml"), "path to config file")
	flag.StringVar(&opts.runPath, "run", "", "run file to execute (.toml, .yaml, .yml or .json)")
	flag.StringVar(&opts.saveDir, "save_dir", "", "override snapshot.save_dir")
	flag.Float64Var(&opts.interval, "interval", 0, "repeat the run every N seconds (>= 1, 0 = once)")
	flag.IntVar(&opts.maxRuns, "max_runs", 0, "stop after N runs in interval mode (0 = until interrupted)")
	flag.BoolVar(&opts.probe, "probe", false, "check the ONVIF connection and exit")
	flag.BoolVar(&opts.installLauncher, "install-launcher", false, "install the ptzgo.desktop launcher and exit")
	flag.BoolVar(&opts.desktop, "desktop", false, "with -install-launcher, also copy the launcher to the desktop")
	flag.Parse()

	if err := validateFlags(opts); err != nil {
		fmt.Fprintln(os.Stderr, "ptzgo:", err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, opts, os.Stdout)
	cancel()
	if errors.Is(err, context.Canceled) {
		log.Printf("%v", err)
		return
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

// validateFlags checks flag combinations before anything is opened.
func validateFlags(o options) error {
	modes := 0
	for _, on := range []bool{o.runPath != "", o.probe, o.web.port() > 0, o.installLauncher} {
		if on {
			modes++
		}
	}
	if modes == 0 {
		return fmt.Errorf("nothing to do: give -run, -probe, -web or -install-launcher")
	}
	if modes > 1 {
		return fmt.Errorf("-run, -probe, -web and -install-launcher are mutually exclusive")
	}
	if err := config.ValidateInterval(o.interval); err != nil {
		return err
	}
	if o.interval > 0 && o.runPath == "" {
		return fmt.Errorf("-interval requires -run")
	}
	if o.maxRuns < 0 {
		return fmt.Errorf("max_runs must be >= 0, got %d", o.maxRuns)
	}
	if o.maxRuns > 0 && o.interval == 0 {
		return fmt.Errorf("-max_runs requires -interval")
	}
	if o.desktop && !o.installLauncher {
		return fmt.Errorf("-desktop requires -install-launcher")
	}
	return nil
}

// run executes the mode selected by o. Output meant for the user (probe,
// launcher paths) goes to out; progress goes through debug.
func run(ctx context.Context, o options, out io.Writer) error {
	if o.installLauncher {
		return installLauncher(o, out)
	}

	// Load configuration
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return errs.Config("load config", err)
	}
	if o.saveDir != "" {
		cfg.Snapshot.SaveDir = o.saveDir
	}

	// Initialize debug system
	level := cfg.Defaults.DebugLevel
	if o.web.port() > 0 && level < debug.LevelInfo {
		level = debug.LevelInfo // the page shows the log
	}
	debug.Init(level)
	if err := debug.InitFile(cfg.Defaults.LogFile); err != nil {
		return errs.IO("log file", err)
	}
	defer debug.Close()
	debug.Section("Initialization")
	debug.Value("Config path", o.configPath)
	debug.Value("Debug level", level)
	debug.PrintStruct("Camera config", redacted(cfg.Camera))

	if o.probe {
		return probe(ctx, cfg, out)
	}

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return errs.Device("init GPIO", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			debug.Warn("closing GPIO driver failed: %v", err)
		}
	}()
	indicator, err := gpio.NewIndicator(gpioDriver, cfg.Indicator.Pin)
	if err != nil {
		return errs.Device("init indicator", err)
	}
	debug.Value("Indicator pin", cfg.Indicator.Pin)

	// Initialize storage
	debug.Step(2, "Initializing storage")
	sopts, err := storageOptions(cfg)
	if err != nil {
		return errs.Config("snapshot", err)
	}
	store := storage.New(cfg.Snapshot.SaveDir, sopts)
	debug.Value("Save dir", store.Base())
	debug.Value("Resize", cfg.Snapshot.Resize)

	newRunner := func(dev camera.Device) *capture.Runner {
		return capture.NewRunner(dev, store, capture.Options{
			HomeOnStart: cfg.Camera.HomeOnStart,
			IdleTimeout: cfg.IdleTimeout(),
			Indicator:   indicator,
		})
	}

	if port := o.web.port(); port > 0 {
		return serveWeb(ctx, cfg, port, newRunner)
	}

	// Load run file
	debug.Step(3, "Loading run file")
	rc, err := script.Load(o.runPath)
	if err != nil {
		return err
	}
	debug.Value("Run", rc.Name)
	debug.Value("Steps", len(rc.Steps))
	debug.Value("Estimated duration", rc.EstimatedDuration())

	// Connect to the camera
	debug.Step(4, "Connecting to camera")
	dev, err := openDevice(ctx, cfg)
	if err != nil {
		return err
	}
	defer dev.Close()
	runner := newRunner(dev)

	debug.Section("Starting run")
	if o.interval > 0 {
		sched := capture.Schedule{
			Interval: time.Duration(o.interval * float64(time.Second)),
			MaxRuns:  o.maxRuns,
		}
		return runner.RunEvery(ctx, rc, sched, func(n int, rep *capture.Report) {
			reportRun(n, rep)
		})
	}
	rep, err := runner.Run(ctx, rc)
	if err != nil {
		return err
	}
	reportRun(1, rep)
	return nil
}

// serveWeb runs the web UI until ctx is cancelled. Each run started from
// the page opens its own camera connection.
func serveWeb(ctx context.Context, cfg *config.Config, port int, newRunner func(camera.Device) *capture.Runner) error {
	broadcaster := web.NewStatusBroadcaster()
	debug.AddHook(broadcaster.Hook())

	runFile := func(ctx context.Context, id, path string) error {
		debug.Info("Run %s: %s", id, path)
		rc, err := script.Load(path)
		if err != nil {
			return err
		}
		dev, err := openDevice(ctx, cfg)
		if err != nil {
			return err
		}
		defer dev.Close()
		rep, err := newRunner(dev).Run(ctx, rc)
		if err != nil {
			return err
		}
		reportRun(1, rep)
		return nil
	}

	formDefaults := web.FormConfig{
		Camera:  cfg.DeviceAddr(),
		Stream:  cfg.Camera.Stream,
		SaveDir: cfg.Snapshot.SaveDir,
		RunsDir: cfg.Defaults.RunsDir,
	}
	if cfg.Camera.Type == "mock" {
		formDefaults.Camera = "mock"
	}
	srv, err := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, runFile, formDefaults)
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

// openDevice selects a camera implementation based on configuration.
func openDevice(ctx context.Context, cfg *config.Config) (camera.Device, error) {
	switch cfg.Camera.Type {
	case "mock":
		debug.Verbose("Camera: mock device")
		return camera.NewMock(), nil
	case "onvif":
		cam, err := camera.DialONVIF(ctx, camera.ONVIFConfig{
			Xaddr:              cfg.DeviceAddr(),
			Username:           cfg.Camera.Username,
			Password:           cfg.Camera.Password,
			Timeout:            cfg.Timeout(),
			InsecureSkipVerify: cfg.Camera.InsecureSkipVerify,
			Stream:             cfg.Camera.Stream,
			ProfileToken:       cfg.Camera.ProfileToken,
			MaxResolution:      cfg.Snapshot.MaxResolution,
		})
		if err != nil {
			return nil, errs.Device("connect "+cfg.DeviceAddr(), err)
		}
		return cam, nil
	default:
		return nil, errs.Configf("camera", "unsupported camera type: %s", cfg.Camera.Type)
	}
}

// probe checks that the device answers GetCapabilities and GetProfiles,
// then prints what it found.
func probe(ctx context.Context, cfg *config.Config, out io.Writer) error {
	dev, err := openDevice(ctx, cfg)
	if err != nil {
		fmt.Fprintf(out, "ONVIF failed: %v\n", err)
		return err
	}
	defer dev.Close()
	fmt.Fprintln(out, "ONVIF OK")

	cam, ok := dev.(*camera.ONVIFCamera)
	if !ok {
		fmt.Fprintln(out, "Device: mock camera")
		return nil
	}
	if info, err := cam.Client().GetDeviceInformation(ctx); err != nil {
		debug.Warn("device information: %v", err)
	} else {
		fmt.Fprintf(out, "Device: %s %s, firmware %s, serial %s\n",
			info.Manufacturer, info.Model, info.FirmwareVersion, info.SerialNumber)
	}
	if at, err := cam.Client().GetSystemDateAndTime(ctx); err == nil {
		fmt.Fprintf(out, "Clock: %s (offset %v)\n", at.Format(time.RFC3339), time.Until(at).Round(time.Second))
	}
	profiles, err := cam.Client().GetProfiles(ctx)
	if err != nil {
		return errs.Device("list profiles", err)
	}
	selected := cam.Profile().Token
	for _, p := range profiles {
		mark := " "
		if p.Token == selected {
			mark = "*"
		}
		fmt.Fprintf(out, "%s profile %s %q %dx%d ptz=%t\n", mark, p.Token, p.Name, p.Width, p.Height, p.HasPTZ)
	}
	return nil
}

// installLauncher writes the desktop entry pointing at this executable.
func installLauncher(o options, out io.Writer) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	cfgPath, err := filepath.Abs(o.configPath)
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}
	apps, desktop, err := launcher.Dirs()
	if err != nil {
		return fmt.Errorf("locate launcher folders: %w", err)
	}
	if !o.desktop {
		desktop = ""
	}
	paths, err := launcher.Install(launcher.DefaultEntry(exe, cfgPath), apps, desktop)
	for _, p := range paths {
		fmt.Fprintf(out, "Installed %s\n", p)
	}
	return err
}

// storageOptions maps the snapshot section onto storage.Options.
func storageOptions(cfg *config.Config) (storage.Options, error) {
	opts := storage.Options{
		JPEGQuality:  cfg.Snapshot.JPEGQuality,
		MinFreeBytes: cfg.MinFreeBytes(),
	}
	if cfg.Snapshot.Resize != "" {
		w, h, err := config.ParseResolution(cfg.Snapshot.Resize)
		if err != nil {
			return storage.Options{}, err
		}
		opts.Width, opts.Height = w, h
	}
	return opts, nil
}

// redacted returns c without its password, for logging.
func redacted(c config.CameraConfig) config.CameraConfig {
	if c.Password != "" {
		c.Password = "***"
	}
	return c
}

func reportRun(n int, rep *capture.Report) {
	debug.Summary("Run Summary")
	debug.Info("Run %d %q: %d snapshots in %s (%v)", n, rep.Name, len(rep.Files), rep.Dir, rep.Duration.Round(time.Millisecond))
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w == nil || w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int {
	if w == nil {
		return 0
	}
	return w.val
}
