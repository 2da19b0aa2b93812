package neural

import (
	"sync"
	"sync/atomic"

	"github.com/fairway-data/launch.report/internal/vision"
)

// preprocessTask is one image to convert into a slot of a batch tensor.
type preprocessTask struct {
	image  *vision.Image
	output []float32
	lb     *Letterbox
	width  int
	height int
	done   *sync.WaitGroup
}

// PreprocessPool converts frames to tensors on a fixed set of workers
// feeding from a bounded queue. The detector owns one pool and routes all
// batch preprocessing through it; inference itself stays sequential.
type PreprocessPool struct {
	tasks   chan preprocessTask
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// DefaultPreprocessWorkers is the stock worker count.
const DefaultPreprocessWorkers = 4

// NewPreprocessPool starts numWorkers workers over a bounded queue.
func NewPreprocessPool(numWorkers int) *PreprocessPool {
	if numWorkers <= 0 {
		numWorkers = DefaultPreprocessWorkers
	}
	p := &PreprocessPool{tasks: make(chan preprocessTask, 2*numWorkers)}
	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	return p
}

func (p *PreprocessPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		canvas, lb := letterboxImage(task.image, task.width, task.height)
		convertCHWBlocked(canvas.Pix, task.output, task.width, task.height)
		*task.lb = lb
		task.done.Done()
	}
}

// PreprocessBatch letterboxes and converts each image into its slot of
// outputBuffer (stride 3*width*height floats) and blocks until the batch
// is complete, returning the letterbox applied to each slot. Returns
// (nil, false) if the pool is already closed.
func (p *PreprocessPool) PreprocessBatch(images []*vision.Image, outputBuffer []float32, width, height int) ([]Letterbox, bool) {
	if p.stopped.Load() {
		return nil, false
	}
	imageSize := 3 * width * height
	lbs := make([]Letterbox, len(images))

	var done sync.WaitGroup
	done.Add(len(images))
	for i, img := range images {
		p.tasks <- preprocessTask{
			image:  img,
			output: outputBuffer[i*imageSize : (i+1)*imageSize],
			lb:     &lbs[i],
			width:  width,
			height: height,
			done:   &done,
		}
	}
	done.Wait()
	return lbs, true
}

// Close stops the workers: the stop flag blocks new batches, the queue is
// drained, and every worker is joined.
func (p *PreprocessPool) Close() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.tasks)
	p.wg.Wait()
}
