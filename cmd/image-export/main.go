package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	imageexport "github.com/menta2k/image-export"
	"github.com/menta2k/image-export/internal/config"
	"github.com/menta2k/image-export/internal/utils"
	"github.com/menta2k/image-export/pkg/types"
)

func main() {
	var in, out, configPath, format, axis, icons string
	var modelPath, libPath string
	var width, height, quality int
	var lock, lossless, removeBG, preview, pretty, debug bool

	flag.StringVar(&in, "in", "", "input image path, URL or directory of images (png/jpg/bmp/tiff/gif/webp)")
	flag.StringVar(&out, "out", "", "output path, or output directory when -in is a directory; the format extension is appended when missing (default: derived from config output section)")
	flag.StringVar(&configPath, "config", "", "config file (default: "+config.GetConfigPath()+" when present)")
	flag.StringVar(&format, "format", "", "output format: jpg|png|bmp|tiff|gif|webp|ico|svg (default: from -out extension or config)")

	flag.IntVar(&width, "width", 0, "target width in pixels (0 = keep)")
	flag.IntVar(&height, "height", 0, "target height in pixels (0 = keep)")
	flag.BoolVar(&lock, "lock", true, "keep the aspect ratio; the other side follows -axis")
	flag.StringVar(&axis, "axis", "width", "edited side when -lock is set: width|height")

	flag.IntVar(&quality, "quality", 0, "JPEG/WebP/SVG quality (1-100, 0 = config default)")
	flag.BoolVar(&lossless, "lossless", false, "WebP lossless mode")
	flag.StringVar(&icons, "icons", "", "comma separated ICO sizes, e.g. 16,32,48,256 (default: config)")

	flag.BoolVar(&removeBG, "remove-bg", false, "remove the background before encoding")
	flag.StringVar(&modelPath, "model", "", "U2-Net ONNX model path (enables background removal)")
	flag.StringVar(&libPath, "ortlib", "", "ONNX Runtime shared library path")

	flag.BoolVar(&preview, "preview", false, "write the PNG preview instead of the export")
	flag.BoolVar(&pretty, "pretty", false, "human readable console logs")
	flag.BoolVar(&debug, "debug", false, "debug logging")

	flag.Parse()
	if in == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -in input.png [-out out.ico] [-format ico] [-width 256] [-lock] [-remove-bg -model u2net.onnx]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load config")
	}
	if modelPath != "" {
		cfg.Segmentation.Enabled = true
		cfg.Segmentation.ModelPath = modelPath
	}
	if libPath != "" {
		cfg.Segmentation.LibraryPath = libPath
	}
	if pretty {
		cfg.Log.Pretty = true
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	setupLogging(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Unavailable removal is logged at startup, so a request for it fails
	// instead of exporting without it
	exp, err := imageexport.NewWithConfig(cfg,
		imageexport.WithRemovalUnavailableNotified(true),
		imageexport.WithProgress(func(p int) {
			if p > 0 {
				fmt.Fprintf(os.Stderr, "\rprogress %3d%%", p)
			}
			if p == 100 {
				fmt.Fprintln(os.Stderr)
			}
		}))
	if err != nil {
		log.Fatal().Err(err).Msg("failed initializing exporter")
	}
	defer exp.Close()

	f, err := resolveFormat(format, out, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid format")
	}

	opts := exportOptions{
		format:   f,
		width:    width,
		height:   height,
		axis:     axis,
		lock:     lock,
		quality:  quality,
		lossless: lossless,
		removeBG: removeBG,
		preview:  preview,
	}
	if icons != "" {
		if opts.icons, err = parseIconSizes(icons); err != nil {
			log.Fatal().Err(err).Msg("invalid icon sizes")
		}
	}
	if f == types.JPEG && removeBG {
		log.Warn().Msg("JPEG has no alpha channel, removed background becomes white")
	}

	inputs, err := collectInputs(in)
	if err != nil {
		log.Fatal().Err(err).Str("input", in).Msg("failed to list input images")
	}
	batch := utils.DirExists(in)
	if batch {
		log.Info().Str("dir", in).Int("images", len(inputs)).Msg("exporting directory")
	}

	failed := 0
	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Msg("interrupted")
			break
		}
		dest := destination(exp, cfg, input, out, batch, opts)
		if err := exportOne(ctx, exp, input, dest, opts); err != nil {
			failed++
			log.Error().Err(err).Str("input", input).Str("kind", types.KindOf(err).String()).Msg("export failed")
		}
	}
	if failed > 0 {
		exp.Close()
		log.Fatal().Int("failed", failed).Int("total", len(inputs)).Msg("some exports failed")
	}
}

// exportOptions are the request flags shared by every input
type exportOptions struct {
	format        types.Format
	width, height int
	axis          string
	lock          bool
	quality       int
	lossless      bool
	icons         []types.Dimensions
	removeBG      bool
	preview       bool
}

// collectInputs expands a directory into the image files below it. Anything
// else, including URLs, is a single input.
func collectInputs(in string) ([]string, error) {
	if !utils.DirExists(in) {
		return []string{in}, nil
	}
	files, err := utils.ListImageFiles(in)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files in %s", in)
	}
	return files, nil
}

// destination picks the output path for input. In batch mode -out names a
// directory; otherwise it is the file itself.
func destination(exp *imageexport.Exporter, cfg *config.Config, input, out string, batch bool, opts exportOptions) string {
	f := opts.format
	if opts.preview {
		f = types.PNG
	}
	switch {
	case batch && out != "":
		return utils.GenerateOutputFilename(input, out, cfg.Output.Prefix, cfg.Output.Suffix, f.Extension())
	case out != "":
		return utils.EnsureExtension(out, f.Extension())
	default:
		return exp.OutputPath(input, f)
	}
}

func exportOne(ctx context.Context, exp *imageexport.Exporter, input, dest string, opts exportOptions) error {
	src, err := exp.LoadImage(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}

	req, err := buildRequest(exp, src, opts)
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(filepath.Dir(dest)); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if opts.preview {
		res, err := exp.Preview(ctx, src, req)
		if err != nil {
			return err
		}
		if err := utils.WriteFileAtomic(dest, res.Data, 0o644); err != nil {
			return types.PersistFailed(dest, err)
		}
		log.Info().Str("path", dest).Str("size", res.Size.String()).Msg("wrote preview")
		return nil
	}

	req.Destination = dest
	res, err := exp.Save(ctx, src, req)
	if err != nil {
		return err
	}
	log.Info().
		Str("path", res.Path).
		Str("format", res.Format.String()).
		Str("size", res.Size.String()).
		Str("bytes", utils.FormatFileSize(int64(len(res.Data)))).
		Msg("wrote export")
	return nil
}

func buildRequest(exp *imageexport.Exporter, src types.ImageBuffer, opts exportOptions) (types.ExportRequest, error) {
	size, err := targetSize(exp, src, opts.width, opts.height, opts.axis, opts.lock)
	if err != nil {
		return types.ExportRequest{}, err
	}
	req := exp.DefaultRequest(opts.format, size)
	if opts.quality != 0 {
		req.Quality = opts.quality
	}
	if opts.lossless {
		req.Lossless = true
	}
	if len(opts.icons) > 0 {
		req.IconSizes = opts.icons
	}
	req.RemoveBackground = opts.removeBG
	return req, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}
	return config.Load(path)
}

func setupLogging(cfg *config.Config) {
	zerolog.SetGlobalLevel(cfg.LogLevel())
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// resolveFormat picks the -format flag, then the -out extension, then the
// configured default
func resolveFormat(flagValue, out string, cfg *config.Config) (types.Format, error) {
	if flagValue != "" {
		return types.ParseFormat(flagValue)
	}
	if ext := filepath.Ext(out); ext != "" {
		if f, err := types.ParseFormat(ext); err == nil {
			return f, nil
		}
	}
	return cfg.DefaultFormat(), nil
}

func targetSize(exp *imageexport.Exporter, src types.ImageBuffer, width, height int, axis string, lock bool) (types.Dimensions, error) {
	edited := types.Dimensions{Width: width, Height: height}
	var a types.Axis
	switch strings.ToLower(axis) {
	case "width", "w":
		a = types.Width
	case "height", "h":
		a = types.Height
	default:
		return types.Dimensions{}, fmt.Errorf("unknown axis %q (use width or height)", axis)
	}
	// a single given side drives the lock regardless of -axis
	if width == 0 && height != 0 {
		a = types.Height
	} else if height == 0 && width != 0 {
		a = types.Width
	}
	return exp.ComputeDimensions(src, edited, a, lock), nil
}

func parseIconSizes(s string) ([]types.Dimensions, error) {
	var sizes []types.Dimensions
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		w, h, found := strings.Cut(strings.ToLower(part), "x")
		n, err := strconv.Atoi(w)
		if err != nil {
			return nil, fmt.Errorf("bad icon size %q: %w", part, err)
		}
		m := n
		if found {
			if m, err = strconv.Atoi(h); err != nil {
				return nil, fmt.Errorf("bad icon size %q: %w", part, err)
			}
		}
		sizes = append(sizes, types.Dimensions{Width: n, Height: m})
	}
	return sizes, nil
}
