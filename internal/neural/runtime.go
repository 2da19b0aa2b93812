// Package neural wraps an externally provided graph runtime as a YOLO-style
// ball detector. The runtime itself (session creation, graph execution) is a
// host collaborator; this package owns session tuning, pre/post-processing,
// buffer management and metrics.
package neural

import "fmt"

// TensorInfo describes one model input or output.
type TensorInfo struct {
	Name  string
	Shape []int64
}

// GraphOptimization levels, mirroring the runtime's ladder.
type GraphOptimization int

const (
	OptDisable GraphOptimization = iota
	OptBasic
	OptExtended
	OptAll
)

// ExecutionMode selects sequential or parallel graph execution.
type ExecutionMode int

const (
	ExecSequential ExecutionMode = iota
	ExecParallel
)

// SessionOptions carries the tuning applied when a session is created.
type SessionOptions struct {
	IntraOpThreads   int
	InterOpThreads   int
	EnableArena      bool
	EnableMemPattern bool
	EnableMemReuse   bool
	Optimization     GraphOptimization
	Execution        ExecutionMode

	// CPUAffinity pins runtime threads to these cores. Core 0 is reserved
	// for the capture loops and never appears here.
	CPUAffinity []int

	// AcceleratorProvider names an optional execution provider
	// (NEON/XNNPACK class) to attach when available.
	AcceleratorProvider string
}

// Session is one loaded model instance. Sessions are thread-confined: a
// single caller at a time, enforced by the detector's buffer claim.
type Session interface {
	// Inputs returns the model's input tensor descriptions.
	Inputs() []TensorInfo

	// Outputs returns the model's output tensor descriptions.
	Outputs() []TensorInfo

	// Run executes the graph on a CHW float tensor and returns the raw
	// output tensor.
	Run(input []float32) ([]float32, error)

	// Close releases the session.
	Close() error
}

// Runtime creates sessions. The production implementation binds the host's
// graph runtime; tests provide fakes.
type Runtime interface {
	NewSession(modelPath string, opts SessionOptions) (Session, error)
}

// InitKind categorises initialisation failures so the orchestrator can
// distinguish runtime-library errors from generic ones.
type InitKind string

const (
	InitOK           InitKind = "ok"
	InitModelMissing InitKind = "model_missing"
	InitRuntimeError InitKind = "runtime_error"
	InitFailure      InitKind = "failure"
)

// InitResult reports the outcome of detector initialisation. Any non-OK
// result is unrecoverable at init time.
type InitResult struct {
	OK      bool
	Kind    InitKind
	Message string
}

func initFailure(kind InitKind, format string, args ...interface{}) InitResult {
	return InitResult{OK: false, Kind: kind, Message: fmt.Sprintf(format, args...)}
}
