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
	"strings"
	"syscall"

	"github.com/cjeanneret/ArmCal/internal/config"
	"github.com/cjeanneret/ArmCal/internal/debug"
	"github.com/cjeanneret/ArmCal/internal/hw/camera"
	"github.com/cjeanneret/ArmCal/internal/hw/gpio"
	"github.com/cjeanneret/ArmCal/internal/hw/vision"
	"github.com/cjeanneret/ArmCal/internal/logic/acquisition"
	"github.com/cjeanneret/ArmCal/internal/logic/converter"
	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
	"github.com/cjeanneret/ArmCal/internal/logic/workflow"
	"github.com/cjeanneret/ArmCal/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	calibrationPath := flag.String("calibration", "", "override calibration file path")
	strategy := flag.String("strategy", "", "override calibration strategy: pattern or manual")
	recalibrate := flag.Bool("recalibrate", false, "ignore the saved calibration and calibrate again")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	ov := overrides{CalibrationPath: *calibrationPath, Strategy: *strategy}
	if err := validateCLIOverrides(ov); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, ov)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Calibration file", cfg.Calibration.Path)
	debug.Value("Strategy", cfg.Pattern.Strategy)

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.GPIO.Mock)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.GPIO.Mock)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Restoring calibration")
	session := workflow.NewSession(converter.New(), cfg.Calibration.Path)
	if cfg.UseReadyLED() {
		led, err := gpio.NewIndicator(gpioDriver, cfg.GPIO.ReadyLEDPin)
		if err != nil {
			log.Fatalf("init ready LED failed: %v", err)
		}
		if err := session.SetIndicator(led); err != nil {
			log.Printf("ready LED: %v", err)
		}
	}
	restored := false
	if !*recalibrate {
		restored = session.Restore()
	}

	prompter := workflow.NewConsolePrompter(os.Stdin, os.Stdout)

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		if !restored {
			// Stops on its own once a web client calibrates through POST /calibrate.
			go func() {
				if err := runCalibration(ctx, cfg, session, gpioDriver, prompter); err != nil && !errors.Is(err, context.Canceled) {
					broadcaster.Broadcast("error", "Calibration failed: "+err.Error())
					log.Printf("calibration failed: %v", err)
				}
			}()
		}

		handlers := web.NewHandlers(broadcaster, session, cfg.Board.GridLines)
		srv := web.NewServer(webAddr, handlers)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	if !restored {
		debug.Step(3, "Calibrating")
		if err := runCalibration(ctx, cfg, session, gpioDriver, prompter); err != nil {
			log.Fatalf("calibration failed: %v", err)
		}
	}

	debug.Step(4, "Answering conversion queries")
	fmt.Println("Enter pixel coordinates as \"column row\", Ctrl+D to quit.")
	done := make(chan error, 1)
	go func() { done <- queryLoop(session, prompter, os.Stdout) }()
	select {
	case err := <-done:
		if err != nil {
			log.Fatalf("query loop: %v", err)
		}
	case <-ctx.Done():
	}
}

// runCalibration acquires four correspondences with the configured strategy
// and commits them to the session.
func runCalibration(ctx context.Context, cfg *config.Config, s *workflow.Session, g gpio.Driver, p workflow.Prompter) error {
	if cfg.Pattern.Strategy == config.StrategyManual {
		return s.RunManual(ctx, p)
	}

	cam, err := newCameraFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init camera: %w", err)
	}
	defer cam.Close()

	pattern, err := acquisition.NewPattern(vision.NewChessboardDetector(), cfg.PatternSize())
	if err != nil {
		return err
	}
	params := workflow.PatternParams{
		Camera:       cam,
		Pattern:      pattern,
		Prompter:     p,
		PollInterval: cfg.PollInterval(),
	}
	if cfg.GPIO.Mock && cfg.GPIO.TriggerPin > 0 {
		debug.Info("Mock GPIO: trigger pin %d ignored, calibrating on the first detection", cfg.GPIO.TriggerPin)
	}
	if cfg.UseTrigger() {
		btn, err := gpio.NewButton(g, cfg.GPIO.TriggerPin)
		if err != nil {
			return err
		}
		params.Trigger = btn
		fmt.Println("Show the pattern to the camera, then press the trigger button.")
	}
	return s.RunPattern(ctx, params)
}

// queryLoop converts "column row" lines until input ends. Conversion errors
// are printed and the loop goes on.
func queryLoop(s *workflow.Session, p workflow.Prompter, out io.Writer) error {
	for {
		pt, err := p.Point("Pixel (column row)")
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
		q, err := s.Convert(geometry.ImagePoint(pt))
		if err != nil {
			fmt.Fprintf(out, "  error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "  -> X=%.3f Y=%.3f\n", q.X, q.Y)
	}
}

// overrides holds CLI values that take precedence over the config file.
// Empty strings mean "use config".
type overrides struct {
	CalibrationPath string
	Strategy        string
}

// validateCLIOverrides checks non-empty CLI overrides.
func validateCLIOverrides(o overrides) error {
	if o.Strategy != "" {
		if err := config.ValidateStrategy(o.Strategy); err != nil {
			return err
		}
	}
	if o.CalibrationPath != "" && strings.TrimSpace(o.CalibrationPath) == "" {
		return fmt.Errorf("calibration path is blank")
	}
	if o.CalibrationPath != "" && strings.HasSuffix(o.CalibrationPath, string(filepath.Separator)) {
		return fmt.Errorf("calibration path must name a file, got directory %q", o.CalibrationPath)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-empty values are applied.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.CalibrationPath != "" {
		cfg.Calibration.Path = o.CalibrationPath
	}
	if o.Strategy != "" {
		cfg.Pattern.Strategy = o.Strategy
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
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

func (w *webPortFlag) port() int { return w.val }

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case config.CameraWebcam:
		cam, err := vision.OpenWebcam(cfg.Camera.Device)
		if err != nil {
			return nil, err
		}
		return cam, nil
	case config.CameraStill:
		cam, err := camera.NewStill(cfg.Camera.StillPath)
		if err != nil {
			return nil, err
		}
		return cam, nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}
