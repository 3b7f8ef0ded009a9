// Package cogeo converts downloaded interferograms to cloud-optimized
// GeoTIFFs with the rio-cogeo command line tool.
package cogeo

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/italolelis/grfn_downloader/internal/logctx"
	"github.com/spf13/afero"
)

const (
	productGlob = "S1*v1.2.1-standard"
	sourceVRT   = "merged/filt_topophase.unw.geo.vrt"
)

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Result counts the products seen by a conversion pass.
type Result struct {
	Total     int
	Converted int
	Failed    int
}

// Converter runs one conversion per product directory.
type Converter struct {
	fs     afero.Fs
	runner Runner
	tool   string
}

// NewConverter returns a converter invoking "rio" through runner.
func NewConverter(fs afero.Fs, runner Runner) *Converter {
	return &Converter{fs: fs, runner: runner, tool: "rio"}
}

// PairName derives "<primary>-<secondary>" dates from a product directory
// name whose second to last "_" field is "<t1>-<t2>".
func PairName(product string) (string, error) {
	fields := strings.Split(filepath.Base(product), "_")
	if len(fields) < 2 {
		return "", fmt.Errorf("unexpected product name %q", product)
	}

	t1, t2, ok := strings.Cut(fields[len(fields)-2], "-")
	if !ok || len(t1) < 8 || len(t2) < 8 || strings.Contains(t2, "-") {
		return "", fmt.Errorf("unexpected date pair in product name %q", product)
	}

	return t1[:8] + "-" + t2[:8], nil
}

// Args returns the rio arguments converting product into outdir.
func Args(product, outdir, pair string) []string {
	return []string{
		"cogeo",
		filepath.Join(product, sourceVRT),
		filepath.Join(outdir, pair+"-unw.geo.tif"),
		"-b", "2",
		"-p", "deflate",
		"--nodata", "0",
	}
}

// ConvertAll converts every product below intdir into outdir, creating it if
// missing. A failing product is logged and counted; only setup failures are
// returned.
func (c *Converter) ConvertAll(ctx context.Context, intdir, outdir string) (Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := c.fs.MkdirAll(outdir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	matches, err := afero.Glob(c.fs, filepath.Join(intdir, productGlob))
	if err != nil {
		return Result{}, fmt.Errorf("failed to list products: %w", err)
	}

	var res Result

	for _, product := range matches {
		if info, err := c.fs.Stat(product); err != nil || !info.IsDir() {
			continue
		}

		res.Total++
	}

	logger.InfoContext(ctx, "making cloud-optimized geotiffs", "products", res.Total, "output", outdir)

	i := 0

	for _, product := range matches {
		if info, err := c.fs.Stat(product); err != nil || !info.IsDir() {
			continue
		}

		if err := ctx.Err(); err != nil {
			return res, err
		}

		plog := logger.With("product", filepath.Base(product), "index", i)
		i++

		pair, err := PairName(product)
		if err != nil {
			plog.ErrorContext(ctx, "skipping product", "err", err)

			res.Failed++

			continue
		}

		args := Args(product, outdir, pair)
		plog.DebugContext(ctx, "running conversion", "cmd", c.tool+" "+strings.Join(args, " "))

		if out, err := c.runner.Run(ctx, c.tool, args...); err != nil {
			plog.ErrorContext(ctx, "conversion failed", "err", err, "output", strings.TrimSpace(string(out)))

			res.Failed++

			continue
		}

		res.Converted++
	}

	logger.InfoContext(ctx, "conversion finished", "converted", res.Converted, "failed", res.Failed, "output", outdir)

	return res, nil
}
