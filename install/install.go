// Package install executes a resolution plan: every package is downloaded,
// verified and handed to a Sink in dependency order, and nothing after the
// first failure is installed.
package install

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/semverx/fetch"
	"github.com/git-pkgs/semverx/integrity"
	"github.com/git-pkgs/semverx/internal/core"
	"github.com/git-pkgs/semverx/resolve"
	"github.com/git-pkgs/semverx/version"
)

// Sink receives verified tarballs.
type Sink interface {
	Install(ctx context.Context, pkg *core.Package, data []byte) error
}

// Report describes what an Install call did.
type Report struct {
	Result    *resolve.Result
	Installed []string
	// Skipped holds the failed package and everything ordered after it.
	Skipped []string
	Failed  string
}

// Installer installs resolved package graphs.
type Installer struct {
	engine     *resolve.Engine
	resolver   *fetch.Resolver
	downloader fetch.Downloader
	sink       Sink
	tier       core.AccessTier
	verify     bool
	logger     *log.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithoutVerification skips checksum verification.
func WithoutVerification() Option {
	return func(in *Installer) {
		in.verify = false
	}
}

// WithTier selects the tier used to resolve tarball URLs. Default live.
func WithTier(t core.AccessTier) Option {
	return func(in *Installer) {
		in.tier = t
	}
}

func WithLogger(l *log.Logger) Option {
	return func(in *Installer) {
		in.logger = l
	}
}

// New creates an Installer.
func New(engine *resolve.Engine, resolver *fetch.Resolver, downloader fetch.Downloader, sink Sink, opts ...Option) *Installer {
	in := &Installer{
		engine:     engine,
		resolver:   resolver,
		downloader: downloader,
		sink:       sink,
		tier:       core.Live,
		verify:     true,
		logger:     log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Install resolves id within r and installs the plan in order. Resolution
// errors are returned with a nil Report. Once installation starts a Report is
// always returned, and the first failure stops the run.
func (in *Installer) Install(ctx context.Context, id string, r version.Range, s core.Strategy) (*Report, error) {
	res, err := in.engine.Resolve(ctx, id, r, s)
	if err != nil {
		return nil, err
	}

	report := &Report{Result: res}
	for i, pkgID := range res.Order {
		if err := ctx.Err(); err != nil {
			report.Skipped = append([]string(nil), res.Order[i:]...)
			return report, err
		}
		pkg := res.Packages[pkgID]
		if err := in.installOne(ctx, pkg); err != nil {
			report.Failed = pkgID
			report.Skipped = append([]string(nil), res.Order[i:]...)
			in.logger.Debug("install stopped", "package", pkgID, "skipped", len(report.Skipped), "err", err)
			return report, fmt.Errorf("installing %s@%s: %w", pkgID, pkg.Version, err)
		}
		report.Installed = append(report.Installed, pkgID)
		in.logger.Debug("installed", "package", pkgID, "version", pkg.Version)
	}
	return report, nil
}

func (in *Installer) installOne(ctx context.Context, pkg *core.Package) error {
	info, err := in.resolver.Resolve(ctx, in.tier, pkg)
	if err != nil {
		return err
	}

	artifact, err := in.downloader.Fetch(ctx, info.URL)
	if err != nil {
		return err
	}
	defer func() { _ = artifact.Body.Close() }()

	var buf bytes.Buffer
	if in.verify {
		declared := *pkg
		declared.Checksum = info.Checksum
		if err := integrity.VerifyReader(&declared, io.TeeReader(artifact.Body, &buf)); err != nil {
			return err
		}
	} else if _, err := io.Copy(&buf, artifact.Body); err != nil {
		return fmt.Errorf("reading tarball: %w", err)
	}

	return in.sink.Install(ctx, pkg, buf.Bytes())
}
