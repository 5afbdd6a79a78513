package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certverify/internal/artifact"
	"github.com/edvin/certverify/internal/domainerr"
)

// Rasterizer renders the first page of a PDF into a PNG image.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([]byte, error)
}

// Pdftoppm rasterizes with poppler's pdftoppm binary.
type Pdftoppm struct {
	logger  zerolog.Logger
	path    string
	dpi     int
	timeout time.Duration
}

func NewPdftoppm(logger zerolog.Logger, path string, dpi int, timeout time.Duration) *Pdftoppm {
	if path == "" {
		path = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 150
	}
	return &Pdftoppm{
		logger:  logger.With().Str("component", "pdftoppm").Logger(),
		path:    path,
		dpi:     dpi,
		timeout: timeout,
	}
}

func (p *Pdftoppm) Rasterize(ctx context.Context, pdf []byte) ([]byte, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	dir, err := os.MkdirTemp("", "certverify-render-")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write render input: %w", err)
	}
	outRoot := filepath.Join(dir, "page")

	cmd := exec.CommandContext(ctx, p.path,
		"-png",
		"-r", strconv.Itoa(p.dpi),
		"-f", "1", "-l", "1",
		"-singlefile",
		in, outRoot,
	)
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return nil, domainerr.Upstream(ctx.Err(), "render pdf")
		case errors.As(err, &exitErr):
			p.logger.Warn().Err(err).Str("output", string(output)).Msg("pdftoppm failed")
			return nil, artifact.ErrMalformed.Because(err, "pdf could not be rendered")
		}
		return nil, domainerr.ErrUpstreamUnavailable.Because(err, "pdf renderer unavailable")
	}

	png, err := os.ReadFile(outRoot + ".png")
	if err != nil {
		return nil, fmt.Errorf("read rendered page: %w", err)
	}
	if len(png) == 0 {
		return nil, artifact.ErrMalformed.Withf("pdf rendered to an empty image")
	}
	return png, nil
}
