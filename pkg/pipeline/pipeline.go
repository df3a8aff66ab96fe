// Package pipeline runs the virtual H&E conversion end to end: load both
// fluorescence channels, normalize them, composite and write the RGB image.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"virtualhe/internal/models"
	"virtualhe/pkg/compositor"
	"virtualhe/pkg/imageio"
	"virtualhe/pkg/normalize"
)

// ChannelMetrics summarizes the normalization of one channel
type ChannelMetrics struct {
	// Threshold is the percentile value that was mapped to 1.0
	Threshold float64

	// SaturatedFraction is the share of pixels clipped at 1.0
	SaturatedFraction float64

	// Mean and StdDev describe the normalized channel
	Mean   float64
	StdDev float64
}

// Metrics holds statistics collected during a run
type Metrics struct {
	Width, Height int

	Nucleus ChannelMetrics
	Eosin   ChannelMetrics

	// MeanColor is the average red, green and blue value before quantization
	MeanColor [3]float64
}

// Params holds the pipeline inputs and settings
type Params struct {
	// NucleusPath is the hematoxylin-analog channel image
	NucleusPath string

	// EosinPath is the eosin-analog channel image
	EosinPath string

	// OutputFile receives the RGB image; its extension selects the format
	OutputFile string

	// Percentile is the normalization percentile for both channels
	Percentile float64

	// Stain holds the absorbance model parameters
	Stain compositor.Params

	// Output encoding options
	Encoding imageio.Options

	// SaveIntermediaryResults writes the normalized channels and a 16-bit
	// composite to IntermediaryDir. They are written before the output
	// and are left in place when the output cannot be written.
	SaveIntermediaryResults bool
	IntermediaryDir         string

	// Logger receives progress messages; nil discards them
	Logger *slog.Logger
}

// DefaultParams returns parameters for the given paths with default settings
func DefaultParams(nucleusPath, eosinPath, outputFile string) *Params {
	return &Params{
		NucleusPath: nucleusPath,
		EosinPath:   eosinPath,
		OutputFile:  outputFile,
		Percentile:  normalize.DefaultPercentile,
		Stain:       compositor.DefaultParams(),
	}
}

// Pipeline converts one nucleus/eosin pair into a virtual H&E image
type Pipeline struct {
	params     *Params
	compositor *compositor.Compositor
	logger     *slog.Logger

	nucleus *models.Channel
	eosin   *models.Channel

	composite *compositor.Composite
	result    *image.NRGBA

	metrics Metrics
}

// New creates a pipeline after validating the model parameters
func New(params *Params) (*Pipeline, error) {
	comp, err := compositor.New(params.Stain)
	if err != nil {
		return nil, err
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		params:     params,
		compositor: comp,
		logger:     logger,
	}, nil
}

// Process runs the complete pipeline and writes OutputFile. On error no
// output file is created; intermediary results already saved are kept.
func (p *Pipeline) Process(ctx context.Context) error {
	if err := imageio.CheckWritable(p.params.OutputFile); err != nil {
		return err
	}

	p.logger.Info("Step 1: Loading input channels",
		"nucleus", p.params.NucleusPath, "eosin", p.params.EosinPath)
	if err := p.loadChannels(); err != nil {
		return err
	}

	if _, err := p.Render(ctx, p.nucleus, p.eosin); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	p.logger.Info("Step 5: Writing output", "path", p.params.OutputFile)
	if err := imageio.WriteImage(p.params.OutputFile, p.result, p.params.Encoding); err != nil {
		return err
	}

	return nil
}

// Render runs the in-memory part of the pipeline on raw channels:
// normalization, compositing and quantization.
func (p *Pipeline) Render(ctx context.Context, nucleus, eosin *models.Channel) (*image.NRGBA, error) {
	if nucleus == nil || eosin == nil {
		return nil, errors.New("render: missing input channel")
	}
	if !nucleus.SameShape(eosin) {
		return nil, &compositor.ShapeMismatchError{
			NucleusWidth:  nucleus.Width(),
			NucleusHeight: nucleus.Height(),
			EosinWidth:    eosin.Width(),
			EosinHeight:   eosin.Height(),
		}
	}
	p.metrics = Metrics{Width: nucleus.Width(), Height: nucleus.Height()}

	p.logger.Info("Step 2: Normalizing channels", "percentile", p.params.Percentile)
	h, e, err := p.normalizeChannels(ctx, nucleus, eosin)
	if err != nil {
		return nil, err
	}
	p.saveIntermediaryResult("01_normalized_nucleus.png", imageio.ChannelToGray16(h))
	p.saveIntermediaryResult("02_normalized_eosin.png", imageio.ChannelToGray16(e))

	p.logger.Info("Step 3: Applying absorbance model", "k", p.compositor.Params().K)
	comp, err := p.compositor.Composite(h, e)
	if err != nil {
		return nil, err
	}
	p.composite = comp
	p.saveIntermediaryResult("03_composite.png", compositor.Quantize16(comp))

	p.logger.Info("Step 4: Quantizing to 8 bits")
	p.result = compositor.Quantize(comp)

	p.calculateMetrics(h, e, comp)
	return p.result, nil
}

// loadChannels reads both input channels
func (p *Pipeline) loadChannels() error {
	nucleus, err := imageio.ReadChannel(p.params.NucleusPath)
	if err != nil {
		return err
	}
	eosin, err := imageio.ReadChannel(p.params.EosinPath)
	if err != nil {
		return err
	}

	p.logger.Debug("Loaded channels",
		"width", nucleus.Width(), "height", nucleus.Height(),
		"eosinWidth", eosin.Width(), "eosinHeight", eosin.Height())

	p.nucleus = nucleus
	p.eosin = eosin
	return nil
}

// normalizeChannels scales both channels concurrently; they share no data
func (p *Pipeline) normalizeChannels(ctx context.Context, nucleus, eosin *models.Channel) (*models.Channel, *models.Channel, error) {
	var h, e *models.Channel
	var hThreshold, eThreshold float64

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		h, hThreshold, err = p.normalizeChannel(ctx, nucleus)
		return err
	})
	g.Go(func() error {
		var err error
		e, eThreshold, err = p.normalizeChannel(ctx, eosin)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	p.metrics.Nucleus.Threshold = hThreshold
	p.metrics.Eosin.Threshold = eThreshold
	p.logger.Debug("Normalization thresholds", "nucleus", hThreshold, "eosin", eThreshold)
	return h, e, nil
}

func (p *Pipeline) normalizeChannel(ctx context.Context, ch *models.Channel) (*models.Channel, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	threshold, err := normalize.Percentile(ch, p.params.Percentile)
	if err != nil {
		return nil, 0, fmt.Errorf("normalize %s: %w", ch.Name, err)
	}
	scaled, err := normalize.Scale(ch, threshold)
	if err != nil {
		return nil, 0, err
	}
	return scaled, threshold, nil
}

// calculateMetrics fills in the per-channel and output statistics
func (p *Pipeline) calculateMetrics(h, e *models.Channel, comp *compositor.Composite) {
	fill := func(m *ChannelMetrics, ch *models.Channel) {
		m.Mean, m.StdDev = stat.MeanStdDev(ch.Values(), nil)
		m.SaturatedFraction = normalize.SaturatedFraction(ch)
	}
	fill(&p.metrics.Nucleus, h)
	fill(&p.metrics.Eosin, e)

	for _, c := range models.Colors {
		plane := comp.Planes[c]
		rows, cols := plane.Dims()
		values := make([]float64, 0, rows*cols)
		for y := 0; y < rows; y++ {
			values = append(values, plane.RawRowView(y)...)
		}
		p.metrics.MeanColor[c] = stat.Mean(values, nil)
	}
}

// saveIntermediaryResult writes one stage image when enabled. Failures are
// logged and do not stop the run.
func (p *Pipeline) saveIntermediaryResult(name string, img image.Image) {
	if !p.params.SaveIntermediaryResults {
		return
	}

	if err := os.MkdirAll(p.params.IntermediaryDir, 0755); err != nil {
		p.logger.Warn("Failed to create intermediary directory", "dir", p.params.IntermediaryDir, "err", err)
		return
	}

	path := filepath.Join(p.params.IntermediaryDir, name)
	if err := imageio.WriteImage(path, img, p.params.Encoding); err != nil {
		p.logger.Warn("Failed to save intermediary result", "path", path, "err", err)
	}
}

// Result returns the quantized image of the last run
func (p *Pipeline) Result() *image.NRGBA {
	return p.result
}

// Composite returns the floating-point composite of the last run
func (p *Pipeline) Composite() *compositor.Composite {
	return p.composite
}

// GetMetrics returns the statistics of the last run
func (p *Pipeline) GetMetrics() Metrics {
	return p.metrics
}
