// Package imageexport resizes images, optionally removes their background and
// exports them to JPEG, PNG, BMP, TIFF, GIF, WEBP, ICO or SVG.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		imageexport "github.com/menta2k/image-export"
//		"github.com/menta2k/image-export/pkg/types"
//	)
//
//	func main() {
//		exp := imageexport.New()
//		defer exp.Close()
//
//		ctx := context.Background()
//		src, err := exp.LoadImage(ctx, "photo.png")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		// Lock the aspect ratio while changing the width
//		size := exp.ComputeDimensions(src, types.Dimensions{Width: 512}, types.Width, true)
//
//		req := exp.DefaultRequest(types.ICO, size)
//		req.IconSizes = types.StandardIconSizes
//		req.Destination = "favicon"
//
//		res, err := exp.Save(ctx, src, req)
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("wrote %s (%d bytes)", res.Path, len(res.Data))
//	}
//
// The package wires four components:
//
// 1. Dimension (pkg/dimension): aspect-locked size computation
// 2. Removal (pkg/removal): the background removal job, backed by pkg/segment
// 3. Encoder (pkg/encoder): per-format encoding rules
// 4. Pipeline (pkg/pipeline): validation, progress and atomic persistence
//
// Background removal needs ONNX Runtime and a U²-Net model. Its availability
// is probed once when the Exporter is built and never re-evaluated.
package imageexport

import (
	"context"
	"fmt"

	"github.com/menta2k/image-export/internal/config"
	"github.com/menta2k/image-export/internal/utils"
	"github.com/menta2k/image-export/pkg/dimension"
	"github.com/menta2k/image-export/pkg/pipeline"
	"github.com/menta2k/image-export/pkg/processing"
	"github.com/menta2k/image-export/pkg/removal"
	"github.com/menta2k/image-export/pkg/segment"
	"github.com/menta2k/image-export/pkg/types"
)

// Version of the image export library
const Version = "1.0.0"

// Exporter provides a high-level interface over the export pipeline
type Exporter struct {
	cfg          *config.Config
	processor    *processing.Processor
	segmenter    segment.Segmenter
	orchestrator *pipeline.Orchestrator
}

type options struct {
	segmenter  segment.Segmenter
	onProgress pipeline.ProgressFunc
	notified   bool
}

// Option customizes an Exporter
type Option func(*options)

// WithSegmenter uses seg for background removal instead of probing the
// configured model. The Exporter takes ownership and closes it.
func WithSegmenter(seg segment.Segmenter) Option {
	return func(o *options) { o.segmenter = seg }
}

// WithProgress registers a progress callback
func WithProgress(fn pipeline.ProgressFunc) Option {
	return func(o *options) { o.onProgress = fn }
}

// WithRemovalUnavailableNotified makes requests for background removal fail
// when the capability is missing, instead of exporting without it
func WithRemovalUnavailableNotified(notified bool) Option {
	return func(o *options) { o.notified = notified }
}

// New creates an Exporter with default configuration
func New(opts ...Option) *Exporter {
	exp, err := NewWithConfig(config.Default(), opts...)
	if err != nil {
		// the default configuration always validates
		panic(err)
	}
	return exp
}

// NewWithConfig creates an Exporter from cfg. Segmentation is probed once
// here when cfg enables it.
func NewWithConfig(cfg *config.Config, opts ...Option) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	seg := o.segmenter
	available := seg != nil
	if seg == nil && cfg.Segmentation.Enabled {
		seg, available = segment.Probe(cfg.SegmentOptions())
	}

	orchestrator := pipeline.New(pipeline.Config{
		Coordinator:                removal.New(seg, available),
		BackgroundRemovalAvailable: available,
		RemovalUnavailableNotified: o.notified,
		ProgressReset:              cfg.PreviewReset(),
		SaveProgressReset:          cfg.SaveReset(),
		OnProgress:                 o.onProgress,
	})

	return &Exporter{
		cfg:          cfg,
		processor:    processing.NewProcessor(),
		segmenter:    seg,
		orchestrator: orchestrator,
	}, nil
}

// Config returns the configuration the Exporter was built with
func (e *Exporter) Config() *config.Config {
	return e.cfg
}

// Capabilities reports the probed capability flags
func (e *Exporter) Capabilities() pipeline.Capabilities {
	return e.orchestrator.Capabilities()
}

// LoadImage loads an image from a file path or an http(s) URL
func (e *Exporter) LoadImage(ctx context.Context, source string) (types.ImageBuffer, error) {
	return e.processor.LoadBuffer(ctx, source)
}

// ComputeDimensions recomputes the companion dimension of edited. A zero
// side means the source's own size.
func (e *Exporter) ComputeDimensions(src types.ImageBuffer, edited types.Dimensions, axis types.Axis, lockAspect bool) types.Dimensions {
	original := types.Dimensions{Width: src.Width(), Height: src.Height()}
	if edited.Width == 0 {
		edited.Width = original.Width
	}
	if edited.Height == 0 {
		edited.Height = original.Height
	}
	return dimension.Compute(original, edited, axis, lockAspect)
}

// DefaultRequest builds a request for format f and size from the configured
// export defaults
func (e *Exporter) DefaultRequest(f types.Format, size types.Dimensions) types.ExportRequest {
	req := types.ExportRequest{
		Format:   f,
		Size:     size,
		Quality:  e.cfg.Export.Quality,
		Lossless: e.cfg.Export.Lossless,
	}
	if f == types.ICO {
		req.IconSizes = e.cfg.IconSizes()
	}
	return req
}

// OutputPath derives the destination for input from the output section
func (e *Exporter) OutputPath(input string, f types.Format) string {
	out := e.cfg.Output
	return utils.GenerateOutputFilename(input, out.Dir, out.Prefix, out.Suffix, f.Extension())
}

// Preview runs req and returns a PNG without writing anything
func (e *Exporter) Preview(ctx context.Context, src types.ImageBuffer, req types.ExportRequest) (types.PipelineResult, error) {
	return e.orchestrator.Preview(ctx, src, req)
}

// Save runs req and writes the result to req.Destination
func (e *Exporter) Save(ctx context.Context, src types.ImageBuffer, req types.ExportRequest) (types.PipelineResult, error) {
	return e.orchestrator.Save(ctx, src, req)
}

// ExportFile is a convenience function that loads input and saves it for
// req. An empty req.Destination is derived from the output configuration.
func (e *Exporter) ExportFile(ctx context.Context, input string, req types.ExportRequest) (types.PipelineResult, error) {
	src, err := e.LoadImage(ctx, input)
	if err != nil {
		return types.PipelineResult{}, fmt.Errorf("failed to load image: %w", err)
	}
	if req.Destination == "" {
		if err := utils.EnsureDir(e.cfg.Output.Dir); err != nil {
			return types.PipelineResult{}, types.PersistFailed(e.cfg.Output.Dir, err)
		}
		req.Destination = e.OutputPath(input, req.Format)
	}
	return e.Save(ctx, src, req)
}

// Progress returns the progress of the current or last request
func (e *Exporter) Progress() int {
	return e.orchestrator.Progress()
}

// Close releases the segmentation engine
func (e *Exporter) Close() error {
	if e.segmenter == nil {
		return nil
	}
	return e.segmenter.Close()
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
