// Command launch-monitor runs the golf launch monitor core: it watches the
// teed ball on camera 1, fires the strobe train on motion, captures the
// strobed flight frame on camera 2, and publishes the solved launch state.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fairway-data/launch.report/internal/calibration"
	"github.com/fairway-data/launch.report/internal/camera"
	"github.com/fairway-data/launch.report/internal/camstream"
	"github.com/fairway-data/launch.report/internal/capture"
	"github.com/fairway-data/launch.report/internal/config"
	"github.com/fairway-data/launch.report/internal/gpio"
	"github.com/fairway-data/launch.report/internal/kinematics"
	"github.com/fairway-data/launch.report/internal/monitoring"
	"github.com/fairway-data/launch.report/internal/neural"
	"github.com/fairway-data/launch.report/internal/orchestrator"
	"github.com/fairway-data/launch.report/internal/trajectory"
	"github.com/fairway-data/launch.report/internal/vision"
	"github.com/fairway-data/launch.report/internal/watcher"
	"github.com/fairway-data/launch.report/internal/webapi"
)

type overrideFlags map[string]string

func (o overrideFlags) String() string { return fmt.Sprintf("%v", map[string]string(o)) }

func (o overrideFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("override must be key=value, got %q", value)
	}
	o[key] = val
	return nil
}

var (
	configFile    = flag.String("config_file", "golf_sim_config.json", "System configuration JSON")
	userSettings  = flag.String("user_settings_file", config.DefaultUserSettingsPath(), "User overrides JSON")
	mappingsFile  = flag.String("mappings_file", "", "Parameter mapping YAML")
	exportPath    = flag.String("export_effective", "", "Write the merged config view to this path and exit")
	validateOnly  = flag.Bool("validate_only", false, "Validate configuration and exit")
	autoCalibrate = flag.Int("auto_calibrate", 0, "Run auto-calibration for the given camera (1 or 2) and exit")
	webBase       = flag.String("web_base", "", "Web collaborator base URL")
	trace         = flag.Bool("trace", false, "Enable verbose per-trigger tracing")
)

func main() {
	overrides := overrideFlags{}
	flag.Var(overrides, "set", "Runtime config override key=value (repeatable)")
	flag.Parse()

	if *trace {
		monitoring.SetTracer(log.Printf)
	}

	cfg := config.NewStore()
	if *mappingsFile != "" {
		if err := cfg.LoadMappings(*mappingsFile); err != nil {
			log.Fatalf("loading mappings: %v", err)
		}
	}
	if err := cfg.Initialize(*configFile, *userSettings, overrides); err != nil {
		// Configuration errors at startup are fatal.
		log.Fatalf("initialising configuration: %v", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			monitoring.Logf("config validation: %s", e)
		}
		if *validateOnly {
			os.Exit(1)
		}
	} else if *validateOnly {
		fmt.Println("configuration valid")
		return
	}

	if *exportPath != "" {
		if err := cfg.ExportEffective(*exportPath, "json"); err != nil {
			log.Fatalf("exporting effective config: %v", err)
		}
		return
	}

	var running atomic.Bool
	running.Store(true)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		monitoring.Logf("shutting down")
		running.Store(false)
	}()

	web := webapi.NewClient(*webBase)
	rig := camera.LoadRigTable(cfg)

	cam2 := camera.DefaultHardware(camera.Camera2, camera.ModelPiGSCam, camera.Lens6mm, camera.OrientationUpright)
	cam2.FocalLengthMM = cfg.GetFloat("gs_config.cameras.kCamera2FocalLength", cam2.FocalLengthMM)
	if angles := cfg.GetFloats("gs_config.cameras.kCamera2Angles", nil); len(angles) == 2 {
		cam2.AnglesDeg = [2]float64{angles[0], angles[1]}
	}

	classical := vision.NewDetector(vision.DefaultDetectorConfig())

	if *autoCalibrate != 0 {
		runCalibration(cfg, rig, classical, web, camera.Number(*autoCalibrate))
		return
	}

	monitorCam, err := camstream.OpenHost(1)
	if err != nil {
		// Hardware absent is not recoverable; exit rather than retry.
		log.Fatalf("opening monitoring camera: %v", err)
	}
	flightCam, err := camstream.OpenHost(2)
	if err != nil {
		log.Fatalf("opening flight camera: %v", err)
	}

	o := &orchestrator.Orchestrator{
		Config:     cfg,
		Watcher:    newMotionWatcher(cfg, monitorCam, &running),
		Capturer:   newFlightCapturer(cfg, flightCam, &running),
		Classical:  classical,
		Neural:     initNeural(cfg),
		Solver:     kinematics.NewSolver(&cam2),
		Trajectory: trajectory.NewCalculator(),
		Web:        web,
		Running:    &running,
	}

	if err := o.Run(); err != nil {
		log.Fatalf("pipeline faulted: %v", err)
	}
}

func newMotionWatcher(cfg *config.Store, cam camstream.Camera, running *atomic.Bool) *watcher.Watcher {
	return &watcher.Watcher{
		Camera: cam,
		Policy: watcher.NewDiffPolicy(
			cfg.GetFloat("gs_config.ball_position_readers.kMotionPixelThreshold", 25),
			cfg.GetFloat("gs_config.ball_position_readers.kMotionMovedFraction", 0.02),
		),
		Running: running,
	}
}

// flightCapturer fires the strobe pulse train and runs the capture state
// machine against the flight camera.
type flightCapturer struct {
	cfg     *config.Store
	cam     camstream.Camera
	running *atomic.Bool
}

func newFlightCapturer(cfg *config.Store, cam camstream.Camera, running *atomic.Bool) *flightCapturer {
	return &flightCapturer{cfg: cfg, cam: cam, running: running}
}

func (f *flightCapturer) Capture() (*vision.Image, error) {
	primingCount := f.cfg.GetInt("gs_config.strobing.kPrimingPulseCount", 3)
	primingFPS := f.cfg.GetInt("gs_config.strobing.kPrimingPulseFPS", 100)
	pulseCount := f.cfg.GetInt("gs_config.strobing.kStrobePulseCount", 6)
	interval := time.Duration(f.cfg.GetInt("gs_config.strobing.kInterFlashIntervalMicroseconds", 1000)) * time.Microsecond
	width := time.Duration(f.cfg.GetInt("gs_config.strobing.kPulseWidthMicroseconds", 40)) * time.Microsecond
	budget := time.Duration(f.cfg.GetInt("gs_config.strobing.kMaxExposureMilliseconds", 1000)) * time.Millisecond

	train := gpio.BuildStandardTrain(pulseCount, interval, width, primingCount, primingFPS, budget)

	var pins gpio.Pins = gpio.NewSysfsPins()
	if _, err := os.Stat("/sys/class/gpio"); err != nil {
		pins = gpio.NoopPins{}
	}
	generator := gpio.NewGenerator(pins,
		f.cfg.GetInt("gs_config.strobing.kStrobePin", 17),
		f.cfg.GetInt("gs_config.strobing.kTriggerPin", 27))

	fsm := capture.NewFSM(capture.Options{
		PrimingPulseCount:      primingCount,
		PrimingFPS:             primingFPS,
		UsePreImageSubtraction: f.cfg.GetBool("gs_config.ball_exposure_selection.kUsePreImageSubtraction", false),
		CameraRequiresFlush:    true,
		UseSecondPrimingGroup:  f.cfg.GetBool("gs_config.ball_exposure_selection.kUseSecondPrimingGroup", false),
		Running:                f.running,
	})

	if err := f.cam.Start(); err != nil {
		return nil, fmt.Errorf("starting flight camera: %w", err)
	}

	// The generator owns the GPIO lines for the duration of the train; the
	// FSM consumes the triggered frames on this thread.
	go func() {
		if err := generator.Run(context.Background(), train); err != nil {
			monitoring.Logf("strobe train failed: %v", err)
		}
	}()

	return fsm.Run(f.cam)
}

func initNeural(cfg *config.Store) orchestrator.NeuralDetector {
	if cfg.GetString("gs_config.ball_identification.kDetectionMethod", "hough") != "neural" {
		return nil
	}
	modelPath := cfg.GetString("gs_config.ball_identification.kModelPath", "ball.onnx")
	ncfg := neural.DefaultConfig(modelPath)
	ncfg.Registerer = prometheus.DefaultRegisterer

	detector := neural.NewDetector(ncfg)
	result := detector.Initialize(hostNeuralRuntime())
	if !result.OK {
		// Non-OK at init is unrecoverable; fall back to the classical
		// detector rather than run without any.
		monitoring.Logf("neural init failed (%s): %s; falling back to classical detector",
			result.Kind, result.Message)
		return nil
	}
	return detector
}

// hostNeuralRuntime returns the platform graph runtime binding. Like the
// camera runtime, the production build registers the real implementation.
func hostNeuralRuntime() neural.Runtime {
	return unavailableRuntime{}
}

type unavailableRuntime struct{}

func (unavailableRuntime) NewSession(string, neural.SessionOptions) (neural.Session, error) {
	return nil, fmt.Errorf("graph runtime not bound on this platform")
}

func runCalibration(cfg *config.Store, rig *camera.RigTable, detector *vision.Detector, web *webapi.Client, num camera.Number) {
	cam, err := camstream.OpenHost(int(num))
	if err != nil {
		log.Fatalf("opening camera %d: %v", num, err)
	}

	hw := camera.DefaultHardware(num, camera.ModelPiGSCam, camera.Lens6mm, camera.OrientationUpright)

	history, err := calibration.OpenStore(cfg.GetString("gs_config.calibration.kHistoryPath", "calibration.db"))
	if err != nil {
		monitoring.Logf("calibration history unavailable: %v", err)
	}

	cal := &calibration.Calibrator{
		Config:   cfg,
		Rig:      rig,
		Detector: detector,
		Capturer: &stillCapturer{cam: cam},
		Web:      web,
		History:  history,
		Hardware: &hw,
	}
	ok, err := cal.AutoCalibrate(num)
	if err != nil {
		log.Fatalf("auto-calibration failed: %v", err)
	}
	if !ok {
		log.Fatalf("auto-calibration rejected; config not modified")
	}
	fmt.Printf("camera %d calibrated: focal %.3f mm, angles (%.2f, %.2f) deg\n",
		num, hw.FocalLengthMM, hw.AnglesDeg[0], hw.AnglesDeg[1])
}

// stillCapturer takes a single frame from a camera for calibration.
type stillCapturer struct {
	cam camstream.Camera
}

func (s *stillCapturer) TakeStill() (*vision.Image, error) {
	if err := s.cam.Start(); err != nil {
		return nil, err
	}
	defer s.cam.Stop()

	for {
		msg := s.cam.Wait()
		switch msg.Type {
		case camstream.MsgTimeout:
			s.cam.Stop()
			s.cam.Start()
		case camstream.MsgQuit:
			return nil, fmt.Errorf("camera quit before delivering a still")
		case camstream.MsgRequestComplete:
			r, err := camstream.ReadBuffer(msg.Buffer)
			if err != nil {
				return nil, err
			}
			img := r.Image().Clone()
			r.Close()
			return img, nil
		default:
			return nil, fmt.Errorf("unrecognised camera message type %d", msg.Type)
		}
	}
}
