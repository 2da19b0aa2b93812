package neural

import (
	"fmt"
	"os"
	goruntime "runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fairway-data/launch.report/internal/monitoring"
	"github.com/fairway-data/launch.report/internal/vision"
)

// cocoClassCount is the class count of the standard COCO-trained heads.
const cocoClassCount = 80

// Config tunes the neural detector.
type Config struct {
	ModelPath   string
	InputWidth  int
	InputHeight int

	ConfidenceThreshold float64
	NMSThreshold        float64

	// SingleClass selects the golf-ball-only head (output dim 5). Model
	// introspection overrides it when the tensor shape disagrees.
	SingleClass bool
	NumClasses  int

	UseMemoryPool     bool
	UseThreadAffinity bool
	UseAccelerator    bool

	// UseBlockedPreprocess selects the SIMD-shaped conversion path.
	UseBlockedPreprocess bool

	// Registerer receives the prometheus collectors; nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

// DefaultConfig returns the stock detector configuration.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath:            modelPath,
		InputWidth:           640,
		InputHeight:          640,
		ConfidenceThreshold:  0.25,
		NMSThreshold:         0.45,
		SingleClass:          true,
		NumClasses:           1,
		UseMemoryPool:        true,
		UseThreadAffinity:    true,
		UseAccelerator:       true,
		UseBlockedPreprocess: true,
	}
}

// Detector wraps a graph-runtime session as a ball detector.
type Detector struct {
	cfg     Config
	session Session

	inputs  []TensorInfo
	outputs []TensorInfo

	pool    *BufferPool
	prePool *PreprocessPool
	metrics *collectors
	mean    runningMean
}

// NewDetector creates an uninitialised detector.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Initialize verifies the model, creates a tuned session, introspects the
// model head, reserves buffers and warms the graph up with five zero-tensor
// inferences. Any non-OK result is unrecoverable.
func (d *Detector) Initialize(rt Runtime) InitResult {
	if _, err := os.Stat(d.cfg.ModelPath); err != nil {
		return initFailure(InitModelMissing, "model file not found: %s", d.cfg.ModelPath)
	}

	session, err := rt.NewSession(d.cfg.ModelPath, d.sessionOptions())
	if err != nil {
		return initFailure(InitRuntimeError, "creating session: %v", err)
	}
	d.session = session

	d.inputs = session.Inputs()
	d.outputs = session.Outputs()
	d.resolveClassMode()

	if d.cfg.UseMemoryPool {
		inputLen := 3 * d.cfg.InputWidth * d.cfg.InputHeight
		outputLen := d.dataWidth() * PredictionCount(d.cfg.InputWidth, d.cfg.InputHeight)
		d.pool = NewBufferPool(inputLen, outputLen)
	}
	d.prePool = NewPreprocessPool(DefaultPreprocessWorkers)
	d.metrics = newCollectors(d.cfg.Registerer)

	d.warmUp(5)

	monitoring.Logf("neural: detector initialised (input %dx%d, single_class=%v)",
		d.cfg.InputWidth, d.cfg.InputHeight, d.cfg.SingleClass)
	return InitResult{OK: true, Kind: InitOK}
}

// sessionOptions builds the tuned options: all cores but core 0, single
// inter-op thread, arena and memory reuse on, maximum graph optimisation,
// parallel execution.
func (d *Detector) sessionOptions() SessionOptions {
	cores := goruntime.NumCPU()
	opts := SessionOptions{
		IntraOpThreads:   maxI(1, cores-1),
		InterOpThreads:   1,
		EnableArena:      true,
		EnableMemPattern: true,
		EnableMemReuse:   true,
		Optimization:     OptAll,
		Execution:        ExecParallel,
	}
	if d.cfg.UseThreadAffinity {
		for core := 1; core < cores; core++ {
			opts.CPUAffinity = append(opts.CPUAffinity, core)
		}
	}
	if d.cfg.UseAccelerator {
		opts.AcceleratorProvider = "xnnpack"
	}
	return opts
}

// resolveClassMode checks the model's output channel dimension (shape[1]) against the
// configured class mode: 5 means single-class, 84 means 80-class COCO,
// anything else keeps the configured mode with a warning.
func (d *Detector) resolveClassMode() {
	if len(d.outputs) == 0 || len(d.outputs[0].Shape) < 2 {
		return
	}
	shape := d.outputs[0].Shape
	dim := shape[1]

	switch dim {
	case 5:
		if !d.cfg.SingleClass {
			monitoring.Logf("neural: config declares multi-class but model head is single-class; using single-class")
		}
		d.cfg.SingleClass = true
		d.cfg.NumClasses = 1
	case 4 + cocoClassCount:
		if d.cfg.SingleClass {
			monitoring.Logf("neural: config declares single-class but model head is COCO; results may be incorrect")
		}
		d.cfg.SingleClass = false
		d.cfg.NumClasses = cocoClassCount
	default:
		monitoring.Logf("neural: unknown model head dimension %d; proceeding with configured mode (single_class=%v)",
			dim, d.cfg.SingleClass)
	}
}

func (d *Detector) dataWidth() int {
	if d.cfg.SingleClass {
		return 5
	}
	return 4 + d.cfg.NumClasses
}

func (d *Detector) warmUp(iterations int) {
	zero := vision.NewImage(d.cfg.InputWidth, d.cfg.InputHeight)
	for i := 0; i < iterations; i++ {
		if _, _, err := d.Detect(zero); err != nil {
			monitoring.Logf("neural: warm-up inference %d failed: %v", i+1, err)
			return
		}
	}
}

// AverageInferenceMS returns the running mean of inference latency.
func (d *Detector) AverageInferenceMS() float64 {
	return d.mean.value()
}

// Close stops the preprocessing workers and releases the session.
func (d *Detector) Close() error {
	if d.prePool != nil {
		d.prePool.Close()
		d.prePool = nil
	}
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	return err
}

// Detect runs one inference on a BGR frame and returns the surviving
// detections in input-image coordinates, plus per-call timings. Inference
// errors are recoverable: the caller may retry with the next frame.
func (d *Detector) Detect(im *vision.Image) ([]Detection, PerformanceMetrics, error) {
	var metrics PerformanceMetrics
	if d.session == nil {
		return nil, metrics, fmt.Errorf("detector not initialised")
	}
	if !im.Valid() {
		return nil, metrics, fmt.Errorf("invalid input image")
	}

	startTotal := time.Now()

	// Claim the pooled buffers for the duration of this call; fall back to
	// a heap buffer if another caller holds them. The deferred release
	// covers every exit path.
	inputLen := 3 * d.cfg.InputWidth * d.cfg.InputHeight
	var input []float32
	if d.pool != nil {
		if claim, err := d.pool.Claim(); err == nil {
			defer claim.Release()
			input = claim.Input()
		} else {
			if d.metrics != nil {
				d.metrics.poolMisses.Inc()
			}
			monitoring.Tracef("neural: pool busy, using heap buffer")
			input = make([]float32, inputLen)
		}
	} else {
		input = make([]float32, inputLen)
	}

	startPre := time.Now()
	canvas, lb := letterboxImage(im, d.cfg.InputWidth, d.cfg.InputHeight)
	if d.cfg.UseBlockedPreprocess {
		convertCHWBlocked(canvas.Pix, input, d.cfg.InputWidth, d.cfg.InputHeight)
	} else {
		convertCHWScalar(canvas.Pix, input, d.cfg.InputWidth, d.cfg.InputHeight)
	}
	metrics.PreprocessMS = msSince(startPre)

	startInfer := time.Now()
	output, err := d.session.Run(input)
	metrics.InferenceMS = msSince(startInfer)
	if err != nil {
		return nil, metrics, fmt.Errorf("inference: %w", err)
	}

	startPost := time.Now()
	detections := decodeOutput(output, d.cfg.InputWidth, d.cfg.InputHeight,
		d.cfg.NumClasses, d.cfg.SingleClass, d.cfg.ConfidenceThreshold, lb)
	detections = NonMaxSuppression(detections, d.cfg.NMSThreshold)
	metrics.PostprocessMS = msSince(startPost)

	metrics.TotalMS = msSince(startTotal)
	if d.pool != nil {
		metrics.BytesInPool = d.pool.Bytes()
	}

	d.mean.add(metrics.InferenceMS)
	if d.metrics != nil {
		d.metrics.observe(&metrics)
	}
	return detections, metrics, nil
}

// DetectBatch preprocesses every frame through the worker pool, then runs
// inference and postprocessing sequentially per frame: detection on a
// given frame is never parallelised across frames.
func (d *Detector) DetectBatch(images []*vision.Image) ([][]Detection, error) {
	if d.session == nil {
		return nil, fmt.Errorf("detector not initialised")
	}
	if len(images) == 0 {
		return nil, nil
	}
	for i, im := range images {
		if !im.Valid() {
			return nil, fmt.Errorf("invalid input image at index %d", i)
		}
	}
	if d.prePool == nil {
		return nil, fmt.Errorf("preprocessing pool closed")
	}

	imageSize := 3 * d.cfg.InputWidth * d.cfg.InputHeight
	batch := make([]float32, len(images)*imageSize)
	lbs, ok := d.prePool.PreprocessBatch(images, batch, d.cfg.InputWidth, d.cfg.InputHeight)
	if !ok {
		return nil, fmt.Errorf("preprocessing pool closed")
	}

	results := make([][]Detection, 0, len(images))
	for i := range images {
		startInfer := time.Now()
		output, err := d.session.Run(batch[i*imageSize : (i+1)*imageSize])
		inferMS := msSince(startInfer)
		if err != nil {
			return results, fmt.Errorf("inference on frame %d: %w", i, err)
		}

		detections := decodeOutput(output, d.cfg.InputWidth, d.cfg.InputHeight,
			d.cfg.NumClasses, d.cfg.SingleClass, d.cfg.ConfidenceThreshold, lbs[i])
		detections = NonMaxSuppression(detections, d.cfg.NMSThreshold)

		d.mean.add(inferMS)
		results = append(results, detections)
	}
	return results, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func maxI(a, b int) int {
	if a > b {
		return a
	}
	return b
}
