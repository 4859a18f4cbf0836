// Package pipeline drives one export request through validation, resize,
// optional background removal, encoding and persistence.
package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/image-export/internal/utils"
	"github.com/menta2k/image-export/pkg/encoder"
	"github.com/menta2k/image-export/pkg/processing"
	"github.com/menta2k/image-export/pkg/removal"
	"github.com/menta2k/image-export/pkg/types"
)

// Progress checkpoints of a pipeline run. Background removal progress is
// rescaled into [ProgressResized, ProgressRemoved].
const (
	ProgressValidated = 10
	ProgressResized   = 40
	ProgressRemoved   = 80
	ProgressEncoded   = 90
	ProgressDone      = 100
)

// Default delays before progress falls back to 0 after a finished run
const (
	DefaultProgressReset     = time.Second
	DefaultSaveProgressReset = 1500 * time.Millisecond
)

// FormatEncoder turns a buffer into the bytes of req.Format
type FormatEncoder interface {
	Encode(buf types.ImageBuffer, req types.ExportRequest) ([]byte, error)
}

// ProgressFunc receives every progress change, including the reset to 0.
// It may call Progress but must not start another run on the same
// orchestrator.
type ProgressFunc func(percent int)

// Config wires an orchestrator. Capability flags are probed once by the
// caller and never re-evaluated.
type Config struct {
	Coordinator *removal.Coordinator
	Encoder     FormatEncoder

	BackgroundRemovalAvailable bool
	VectorRendererAvailable    bool

	// RemovalUnavailableNotified records that the caller was already told
	// background removal is unavailable. Requests asking for it then fail
	// instead of silently skipping the transform.
	RemovalUnavailableNotified bool

	ProgressReset     time.Duration
	SaveProgressReset time.Duration
	OnProgress        ProgressFunc

	FileMode os.FileMode
}

// Capabilities are the cached capability flags of an orchestrator
type Capabilities struct {
	BackgroundRemoval bool
	VectorRenderer    bool
}

// Orchestrator runs export requests one at a time
type Orchestrator struct {
	cfg Config

	// run serializes requests; notify orders progress callbacks
	run    sync.Mutex
	notify sync.Mutex

	mu         sync.Mutex
	progress   int
	generation uint64
	reset      *time.Timer
}

// New creates an orchestrator, filling unset Config fields with defaults
func New(cfg Config) *Orchestrator {
	if cfg.Encoder == nil {
		cfg.Encoder = encoder.New()
	}
	if cfg.ProgressReset <= 0 {
		cfg.ProgressReset = DefaultProgressReset
	}
	if cfg.SaveProgressReset <= 0 {
		cfg.SaveProgressReset = DefaultSaveProgressReset
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}
	if cfg.Coordinator == nil || !cfg.Coordinator.Available() {
		cfg.BackgroundRemovalAvailable = false
	}
	return &Orchestrator{cfg: cfg}
}

// Capabilities reports the flags the orchestrator was built with
func (o *Orchestrator) Capabilities() Capabilities {
	return Capabilities{
		BackgroundRemoval: o.cfg.BackgroundRemovalAvailable,
		VectorRenderer:    o.cfg.VectorRendererAvailable,
	}
}

// Progress returns the current progress of the running or last finished
// request
func (o *Orchestrator) Progress() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Preview runs req against src and returns the result encoded as PNG.
// Nothing is written to disk.
func (o *Orchestrator) Preview(ctx context.Context, src types.ImageBuffer, req types.ExportRequest) (types.PipelineResult, error) {
	o.run.Lock()
	defer o.run.Unlock()
	gen := o.begin()

	req = req.Normalized()
	if err := validate(src, req); err != nil {
		o.abort(gen)
		return types.PipelineResult{}, err
	}
	o.advance(gen, ProgressValidated)

	out, removed, err := o.transform(ctx, gen, src, req)
	if err != nil {
		o.abort(gen)
		return types.PipelineResult{}, err
	}

	previewReq := req
	previewReq.Format = types.PNG
	data, err := o.cfg.Encoder.Encode(out, previewReq)
	if err != nil {
		o.abort(gen)
		return types.PipelineResult{}, err
	}
	o.advance(gen, ProgressEncoded)
	o.complete(gen, o.cfg.ProgressReset)

	log.Info().Str("request", req.String()).Int("bytes", len(data)).Msg("preview ready")

	return types.PipelineResult{
		Data:              data,
		Format:            types.PNG,
		Size:              req.Size,
		BackgroundRemoved: removed,
	}, nil
}

// Save runs req against src and writes the result to req.Destination. The
// format's extension is appended when the destination lacks it. The file is
// written atomically and not at all when an earlier stage fails.
func (o *Orchestrator) Save(ctx context.Context, src types.ImageBuffer, req types.ExportRequest) (types.PipelineResult, error) {
	o.run.Lock()
	defer o.run.Unlock()
	gen := o.begin()

	req = req.Normalized()
	if err := validate(src, req); err != nil {
		o.abort(gen)
		return types.PipelineResult{}, err
	}
	if req.Destination == "" {
		o.abort(gen)
		return types.PipelineResult{}, types.InvalidRequest("destination path is required")
	}
	path := utils.EnsureExtension(req.Destination, req.Format.Extension())
	o.advance(gen, ProgressValidated)

	out, removed, err := o.transform(ctx, gen, src, req)
	if err != nil {
		o.abort(gen)
		return types.PipelineResult{}, err
	}

	data, err := o.cfg.Encoder.Encode(out, req)
	if err != nil {
		o.abort(gen)
		return types.PipelineResult{}, err
	}
	o.advance(gen, ProgressEncoded)

	if err := utils.WriteFileAtomic(path, data, o.cfg.FileMode); err != nil {
		o.abort(gen)
		log.Error().Err(err).Str("path", path).Msg("failed to persist export")
		return types.PipelineResult{}, types.PersistFailed(path, err)
	}
	o.complete(gen, o.cfg.SaveProgressReset)

	log.Info().
		Str("request", req.String()).
		Str("path", path).
		Int("bytes", len(data)).
		Msg("export saved")

	return types.PipelineResult{
		Data:              data,
		Format:            req.Format,
		Size:              req.Size,
		Path:              path,
		BackgroundRemoved: removed,
	}, nil
}

func validate(src types.ImageBuffer, req types.ExportRequest) error {
	if src.IsZero() {
		return types.InvalidRequest("source image is empty")
	}
	return req.Validate()
}

// transform resizes src and removes the background when requested. The
// returned flag reports whether removal actually ran.
func (o *Orchestrator) transform(ctx context.Context, gen uint64, src types.ImageBuffer, req types.ExportRequest) (types.ImageBuffer, bool, error) {
	resized := processing.Resize(src, req.Size)
	o.advance(gen, ProgressResized)

	if !req.RemoveBackground {
		return resized, false, nil
	}
	if !o.cfg.BackgroundRemovalAvailable {
		return o.removalUnavailable(resized, types.CapabilityUnavailable("background removal"))
	}

	job, err := o.cfg.Coordinator.Submit(ctx, resized)
	if errors.Is(err, types.ErrCapabilityUnavailable) {
		return o.removalUnavailable(resized, err)
	}
	if err != nil {
		return types.ImageBuffer{}, false, err
	}

	for ev := range job.Events() {
		if !ev.Terminal() {
			o.advance(gen, rescale(ev.Percent))
		}
	}
	// Hold the run lock until the engine lets go so the next request is
	// admitted instead of hitting JobAlreadyRunning.
	<-job.Stopped()
	out, err := job.Result()
	if err != nil {
		return types.ImageBuffer{}, false, err
	}
	o.advance(gen, ProgressRemoved)
	return out, true, nil
}

func (o *Orchestrator) removalUnavailable(buf types.ImageBuffer, cause error) (types.ImageBuffer, bool, error) {
	if o.cfg.RemovalUnavailableNotified {
		return types.ImageBuffer{}, false, types.BackgroundRemovalFailed("background removal is unavailable", cause)
	}
	log.Warn().Msg("background removal requested but unavailable, continuing without it")
	return buf, false, nil
}

// rescale maps removal progress [0,100] into [ProgressResized, ProgressRemoved]
func rescale(percent int) int {
	return ProgressResized + percent*(ProgressRemoved-ProgressResized)/100
}

// begin starts a new run: any pending reset is dropped and progress is 0
func (o *Orchestrator) begin() uint64 {
	o.notify.Lock()
	defer o.notify.Unlock()

	o.mu.Lock()
	if o.reset != nil {
		o.reset.Stop()
		o.reset = nil
	}
	o.generation++
	gen := o.generation
	changed := o.progress != 0
	o.progress = 0
	o.mu.Unlock()

	if changed {
		o.emit(0)
	}
	return gen
}

// advance raises progress for run gen; it never moves backwards
func (o *Orchestrator) advance(gen uint64, percent int) {
	o.notify.Lock()
	defer o.notify.Unlock()

	o.mu.Lock()
	if gen != o.generation || percent <= o.progress {
		o.mu.Unlock()
		return
	}
	o.progress = percent
	o.mu.Unlock()

	o.emit(percent)
}

// complete reports 100 and schedules the reset to 0 after delay
func (o *Orchestrator) complete(gen uint64, delay time.Duration) {
	o.advance(gen, ProgressDone)

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return
	}
	o.reset = time.AfterFunc(delay, func() { o.abort(gen) })
}

// abort drops progress of run gen back to 0
func (o *Orchestrator) abort(gen uint64) {
	o.notify.Lock()
	defer o.notify.Unlock()

	o.mu.Lock()
	if gen != o.generation || o.progress == 0 {
		o.mu.Unlock()
		return
	}
	o.progress = 0
	o.mu.Unlock()

	o.emit(0)
}

func (o *Orchestrator) emit(percent int) {
	if o.cfg.OnProgress != nil {
		o.cfg.OnProgress(percent)
	}
}
