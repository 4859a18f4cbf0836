// Package removal runs background removal as a cancellable job that reports
// progress and ends with exactly one terminal event.
package removal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/image-export/pkg/processing"
	"github.com/menta2k/image-export/pkg/segment"
	"github.com/menta2k/image-export/pkg/types"
)

// Progress checkpoints
const (
	ProgressAccepted   = 10
	ProgressSubmitted  = 30
	ProgressMasked     = 50
	ProgressComposited = 80
	ProgressDone       = 100
)

// checkpoints is the number of running events a job can emit before its
// terminal event
const checkpoints = 4

// Coordinator admits at most one background removal job at a time
type Coordinator struct {
	segmenter segment.Segmenter
	available bool

	mu      sync.Mutex
	running *Job
}

// New creates a coordinator. available is the capability flag probed once at
// startup; it is never re-evaluated.
func New(seg segment.Segmenter, available bool) *Coordinator {
	return &Coordinator{
		segmenter: seg,
		available: available && seg != nil,
	}
}

// Available reports the cached capability flag
func (c *Coordinator) Available() bool {
	return c.available
}

// Busy reports whether a job is in flight
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running != nil
}

// Submit starts a job for img. It fails immediately when the capability is
// unavailable or another job from this coordinator is still running.
func (c *Coordinator) Submit(ctx context.Context, img types.ImageBuffer) (*Job, error) {
	if !c.available {
		return nil, types.CapabilityUnavailable("background removal")
	}
	if img.IsZero() || img.Width() <= 0 || img.Height() <= 0 {
		return nil, types.BackgroundRemovalFailed("malformed input", errors.New("empty image buffer"))
	}

	c.mu.Lock()
	if c.running != nil {
		c.mu.Unlock()
		return nil, types.JobAlreadyRunning()
	}
	job := newJob(ctx)
	c.running = job
	c.mu.Unlock()

	log.Debug().
		Int("width", img.Width()).
		Int("height", img.Height()).
		Msg("background removal job accepted")

	go c.run(job, img)
	return job, nil
}

func (c *Coordinator) run(job *Job, img types.ImageBuffer) {
	defer func() {
		c.release(job)
		close(job.stopped)
	}()
	defer func() {
		if r := recover(); r != nil {
			c.finish(job, types.JobProgress{
				State: types.JobFailed,
				Err:   types.BackgroundRemovalFailed("segmentation engine panicked", fmt.Errorf("%v", r)),
			})
		}
	}()

	job.report(ProgressAccepted)

	src := processing.ToImage(img)
	if job.cancelled() {
		return
	}
	job.report(ProgressSubmitted)

	mask, err := c.segmenter.Mask(job.ctx, src)
	if job.cancelled() {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("background removal failed")
		c.finish(job, types.JobProgress{
			State: types.JobFailed,
			Err:   types.BackgroundRemovalFailed("segmentation engine error", err),
		})
		return
	}
	if mask == nil || mask.Bounds().Dx() != img.Width() || mask.Bounds().Dy() != img.Height() {
		c.finish(job, types.JobProgress{
			State: types.JobFailed,
			Err:   types.BackgroundRemovalFailed("mask size does not match input", nil),
		})
		return
	}
	job.report(ProgressMasked)

	out := ApplyMask(img, mask)
	if job.cancelled() {
		return
	}
	job.report(ProgressComposited)

	log.Debug().Msg("background removed")
	c.finish(job, types.JobProgress{Percent: ProgressDone, State: types.JobCompleted, Result: out})
}

// finish frees the admission slot, then publishes the terminal event
func (c *Coordinator) finish(job *Job, ev types.JobProgress) {
	c.release(job)
	job.finish(ev)
}

func (c *Coordinator) release(job *Job) {
	c.mu.Lock()
	if c.running == job {
		c.running = nil
	}
	c.mu.Unlock()
}

// Job is one submitted background removal
type Job struct {
	ctx    context.Context
	cancel context.CancelFunc
	events  chan types.JobProgress
	done    chan struct{}
	stopped chan struct{}

	mu       sync.Mutex
	percent  int
	terminal *types.JobProgress
}

func newJob(parent context.Context) *Job {
	ctx, cancel := context.WithCancel(parent)
	j := &Job{
		ctx:    ctx,
		cancel: cancel,
		events:  make(chan types.JobProgress, checkpoints+1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go func() {
		<-ctx.Done()
		j.finish(types.JobProgress{State: types.JobCancelled, Err: types.Cancelled(ctx.Err())})
	}()
	return j
}

// Events delivers progress in order and ends with one terminal event, after
// which the channel is closed.
func (j *Job) Events() <-chan types.JobProgress {
	return j.events
}

// Done is closed once the terminal event has been recorded
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Stopped is closed once the worker has returned and the coordinator can
// admit another job. After a cancel this may come well after Done.
func (j *Job) Stopped() <-chan struct{} {
	return j.stopped
}

// Cancel requests the job to stop. The job still emits exactly one terminal
// event: Cancelled, or whatever outcome was already recorded.
func (j *Job) Cancel() {
	j.cancel()
}

// Wait blocks until the job ends and returns its result
func (j *Job) Wait() (types.ImageBuffer, error) {
	<-j.done
	return j.Result()
}

// Result returns the terminal outcome. Before the job ends it returns an
// error of kind JobAlreadyRunning.
func (j *Job) Result() (types.ImageBuffer, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminal == nil {
		return types.ImageBuffer{}, types.JobAlreadyRunning()
	}
	return j.terminal.Result, j.terminal.Err
}

// Percent returns the last reported progress
func (j *Job) Percent() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.percent
}

func (j *Job) cancelled() bool {
	return j.ctx.Err() != nil
}

func (j *Job) report(percent int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminal != nil || percent <= j.percent {
		return
	}
	j.percent = percent
	j.events <- types.JobProgress{Percent: percent, State: types.JobRunning}
}

// finish records the first terminal event; later calls are ignored
func (j *Job) finish(ev types.JobProgress) {
	j.mu.Lock()
	if j.terminal != nil {
		j.mu.Unlock()
		return
	}
	if ev.Percent < j.percent {
		ev.Percent = j.percent
	}
	j.percent = ev.Percent
	j.terminal = &ev
	j.events <- ev
	close(j.events)
	close(j.done)
	j.mu.Unlock()

	j.cancel()
}
