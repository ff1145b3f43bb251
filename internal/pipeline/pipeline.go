// Package pipeline runs every subject through sampling, segmentation and the
// metric battery, and writes one report row per subject.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrsinham/radqy/internal/dicom/modalities"
	"github.com/mrsinham/radqy/internal/iqm"
	"github.com/mrsinham/radqy/internal/preview"
	"github.com/mrsinham/radqy/internal/report"
	"github.com/mrsinham/radqy/internal/segment"
	"github.com/mrsinham/radqy/internal/subject"
	"github.com/mrsinham/radqy/internal/tags"
	"github.com/mrsinham/radqy/internal/volume"
)

// MaskDir is the folder, inside the output directory, holding mask previews.
const MaskDir = "foreground_masks"

// ErrNoResults is returned when no subject produced a row.
var ErrNoResults = errors.New("no subject produced a result")

// ErrPanic wraps a panic recovered while processing one subject.
var ErrPanic = errors.New("subject processing panicked")

// Options is the context of one run.
type Options struct {
	OutDir  string
	Profile modalities.Profile
	// Stride keeps every Stride-th sampled slice.
	Stride int
	// Middle is the percentage of central slices sampled from each volume.
	Middle     int
	SaveMasks  bool
	Dictionary tags.Dictionary
	Logger     *zap.Logger
	// Workers is the number of subjects processed concurrently. Zero uses
	// one worker per CPU.
	Workers int
	Quiet   bool
	// Start is written in the report header; zero means now.
	Start time.Time
}

// Summary describes a finished run.
type Summary struct {
	Subjects int
	Emitted  int
	Skipped  int
	// Scans is the number of slices measured over all emitted subjects.
	Scans       int
	ResultsPath string
	SummaryPath string
	Elapsed     time.Duration
}

// outcome is the result of one subject, delivered to the writer.
type outcome struct {
	index   int
	subject subject.Subject
	row     report.Row
	scans   int
	err     error
}

// Run processes subjects and writes results.tsv and IQM.csv into
// opts.OutDir. Rows are written in subject order whatever the number of
// workers. A subject that fails is logged and skipped.
func Run(ctx context.Context, subjects []subject.Subject, opts Options) (*Summary, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Profile == nil {
		opts.Profile = modalities.GetProfile(modalities.MRI)
	}
	if opts.Stride < 1 {
		opts.Stride = 1
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now()
	}
	if !opts.Quiet {
		fmt.Printf("RadQy for the %s data is starting....\n", opts.Profile.ScanType())
	}

	if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	outDir := opts.OutDir
	if abs, err := filepath.Abs(opts.OutDir); err == nil {
		outDir = abs
	}

	summary := &Summary{
		Subjects:    len(subjects),
		ResultsPath: filepath.Join(opts.OutDir, report.ResultsFile),
		SummaryPath: filepath.Join(opts.OutDir, report.SummaryFile),
	}

	w, err := report.Create(summary.ResultsPath, report.Header{
		Start:    opts.Start,
		OutDir:   outDir,
		ScanType: string(opts.Profile.ScanType()),
	})
	if err != nil {
		return nil, err
	}

	runErr := run(ctx, subjects, opts, w, summary)
	if err := w.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close report: %w", err)
	}
	if runErr != nil {
		return summary, runErr
	}
	if summary.Emitted == 0 {
		return summary, ErrNoResults
	}

	if err := report.Summarize(summary.ResultsPath, summary.SummaryPath); err != nil {
		return summary, err
	}
	summary.Elapsed = time.Since(opts.Start)

	if !opts.Quiet {
		fmt.Printf("The IQMs data are saved in the %s file.\n", summary.SummaryPath)
		fmt.Println("Done!")
		fmt.Printf("RadQy backend took %.2f minutes for %d subjects and the overall %d %s scans to run.\n",
			summary.Elapsed.Minutes(), summary.Subjects, summary.Scans, opts.Profile.ScanType())
	}
	return summary, nil
}

// run fans subjects out to the workers and writes their rows in order from
// the calling goroutine.
func run(ctx context.Context, subjects []subject.Subject, opts Options, w *report.Writer, summary *Summary) error {
	if len(subjects) == 0 {
		return nil
	}

	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(subjects) {
		numWorkers = len(subjects)
	}
	opts.Logger.Debug("starting workers", zap.Int("workers", numWorkers), zap.Int("subjects", len(subjects)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	taskChan := make(chan int)
	resultChan := make(chan outcome, numWorkers)

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range taskChan {
				row, scans, err := processSubject(ctx, subjects[i], opts)
				resultChan <- outcome{index: i, subject: subjects[i], row: row, scans: scans, err: err}
			}
		}()
	}

	go func() {
		defer close(taskChan)
		for i := range subjects {
			select {
			case taskChan <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	pending := make(map[int]outcome)
	next := 0
	var writeErr error
	for res := range resultChan {
		if writeErr != nil {
			continue
		}
		pending[res.index] = res
		for {
			o, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if err := emit(o, len(subjects), opts, w, summary); err != nil {
				writeErr = err
				cancel()
				break
			}
		}
	}

	if writeErr != nil {
		return writeErr
	}
	return ctx.Err()
}

// emit writes one subject's row and its console lines.
func emit(o outcome, total int, opts Options, w *report.Writer, summary *Summary) error {
	if errors.Is(o.err, context.Canceled) {
		return nil
	}
	if !opts.Quiet {
		fmt.Printf("-------------- Participant %d out of %d with the %s type: %s --------------\n",
			o.index+1, total, o.subject.Format, o.subject.ID)
	}

	if o.err != nil {
		opts.Logger.Error("skipping subject",
			zap.String("subject", o.subject.ID),
			zap.String("format", string(o.subject.Format)),
			zap.Error(o.err))
		summary.Skipped++
		return nil
	}

	if !opts.Quiet {
		printRow(o, opts)
	}
	if err := w.Write(o.row); err != nil {
		return err
	}
	summary.Emitted++
	summary.Scans += o.scans
	opts.Logger.Debug("stage", zap.String("subject", o.subject.ID), zap.Stringer("stage", StageEmitted))
	return nil
}

// printRow lists every tag, NUM and metric average of a row, numbered.
func printRow(o outcome, opts Options) {
	var printed []report.Cell
	for _, c := range o.row {
		if c.Name == report.ColumnParticipant || c.Name == report.ColumnImages {
			continue
		}
		printed = append(printed, c)
	}

	dir := filepath.Join(opts.OutDir, o.subject.ID)
	fmt.Printf("The number of %d scans were saved to %s directory.\n", o.scans, dir)
	if opts.SaveMasks {
		fmt.Printf("The number of %d masks were also saved to %s directory.\n",
			o.scans, filepath.Join(opts.OutDir, MaskDir, o.subject.ID))
	}
	for i, c := range printed {
		fmt.Printf("%d/%d) The %s of the participant %s is %s.\n", i+1, len(printed), c.Name, o.subject.ID, c.Value)
	}
}

// processSubject samples, segments and measures one subject and builds its
// report row. A panic while processing becomes the subject's error.
func processSubject(ctx context.Context, s subject.Subject, opts Options) (row report.Row, scans int, err error) {
	defer func() {
		if r := recover(); r != nil {
			row, scans, err = nil, 0, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	logger := opts.Logger.With(zap.String("subject", s.ID))
	stage := func(st Stage) { logger.Debug("stage", zap.Stringer("stage", st)) }

	stage(StageLoading)
	vol, err := volume.Sample(s, volume.Options{
		Middle:     opts.Middle,
		Dictionary: opts.Dictionary,
		Logger:     logger,
	})
	if err != nil {
		return nil, 0, err
	}

	stage(StageSlicing)
	indices := StrideIndices(len(vol.Slices), opts.Stride)
	logger.Debug("sampled volume",
		zap.Int("total", vol.Total),
		zap.Int("sampled", len(vol.Slices)),
		zap.Int("measured", len(indices)))

	imageDir := filepath.Join(opts.OutDir, s.ID)
	maskDir := filepath.Join(opts.OutDir, MaskDir, s.ID)

	vectors := make([]iqm.Vector, 0, len(indices))
	names := make([]string, 0, len(indices))
	for _, j := range indices {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		raw := vol.Slices[j]
		name := PreviewName(s.ID, j)

		stage(StageSegment)
		err := preview.Save(filepath.Join(imageDir, name), raw, preview.Options{
			Label: fmt.Sprintf("Slice %d/%d", j+1, len(vol.Slices)),
		})
		if err != nil {
			return nil, 0, fmt.Errorf("save preview of slice %d: %w", j, err)
		}
		names = append(names, name)

		seg := segment.Segment(opts.Profile.Preprocess(raw))
		if seg.Fallback {
			logger.Warn("segmentation fell back to the whole slice", zap.Int("slice", j), zap.Error(seg.Reason))
		}
		if opts.SaveMasks {
			err := preview.Save(filepath.Join(maskDir, name), seg.Mask, preview.Options{Nearest: true})
			if err != nil {
				return nil, 0, fmt.Errorf("save mask of slice %d: %w", j, err)
			}
		}

		stage(StageMeasure)
		vectors = append(vectors, iqm.Measure(iqm.Input{
			F:    seg.F,
			B:    seg.B,
			Mask: seg.Mask,
			Fore: seg.Fore,
			Back: seg.Back,
		}))
	}

	stage(StageAveraging)
	averages := iqm.Average(vectors)
	return buildRow(s.ID, vol.Tags, names, averages), len(indices), nil
}

// buildRow lays out Participant, the tag columns, Name of Images, NUM and
// the metric averages.
func buildRow(id string, table tags.Table, names []string, averages iqm.Vector) report.Row {
	row := make(report.Row, 0, len(table)+len(averages)+3)
	row = append(row, report.Cell{Name: report.ColumnParticipant, Value: id})
	for _, f := range table {
		row = append(row, report.Cell{Name: f.Name, Value: f.Value})
	}
	row = append(row,
		report.Cell{Name: report.ColumnImages, Value: strings.Join(names, ",")},
		report.Cell{Name: report.ColumnSlices, Value: strconv.Itoa(len(names))},
	)
	for _, v := range averages {
		row = append(row, report.Cell{Name: v.Name, Value: report.FormatFloat(v.Value)})
	}
	return row
}

// StrideIndices returns 0, stride, 2·stride, ... below n; its length is
// ceil(n/stride).
func StrideIndices(n, stride int) []int {
	if stride < 1 {
		stride = 1
	}
	var out []int
	for j := 0; j < n; j += stride {
		out = append(out, j)
	}
	return out
}

// PreviewName is the file name of the preview of slice j.
func PreviewName(id string, j int) string {
	return fmt.Sprintf("%s(%d).png", id, j)
}
