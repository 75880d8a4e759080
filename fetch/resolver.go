package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/git-pkgs/semverx/internal/core"
	"github.com/git-pkgs/semverx/version"
)

var (
	ErrUnsupportedTier = errors.New("unsupported access tier")
	ErrNoDownloadURL   = errors.New("no download URL available")
)

// Resolver determines download URLs for package tarballs.
type Resolver struct {
	registries map[core.AccessTier]core.Registry
}

// NewResolver creates a Resolver for the given registries.
func NewResolver(regs ...core.Registry) *Resolver {
	r := &Resolver{registries: make(map[core.AccessTier]core.Registry)}
	for _, reg := range regs {
		r.RegisterRegistry(reg)
	}
	return r
}

// RegisterRegistry adds or replaces the registry for its tier.
func (r *Resolver) RegisterRegistry(reg core.Registry) {
	r.registries[reg.Tier()] = reg
}

// ArtifactInfo describes a downloadable tarball.
type ArtifactInfo struct {
	URL      string
	Filename string
	Checksum string // hex SHA-256, empty when unknown
}

// Resolve returns the tarball location for pkg. It prefers the URL carried in
// the package metadata, then the registry's URL scheme, then refetched
// metadata for the exact version.
func (r *Resolver) Resolve(ctx context.Context, tier core.AccessTier, pkg *core.Package) (*ArtifactInfo, error) {
	if pkg.TarballURL != "" {
		return newArtifactInfo(pkg.TarballURL, pkg), nil
	}

	reg, ok := r.registries[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTier, tier)
	}

	if url := reg.URLs().Download(pkg.ID, pkg.Version.String()); url != "" {
		return newArtifactInfo(url, pkg), nil
	}

	return r.resolveFromMetadata(ctx, reg, pkg)
}

func (r *Resolver) resolveFromMetadata(ctx context.Context, reg core.Registry, pkg *core.Package) (*ArtifactInfo, error) {
	fresh, err := reg.FetchPackage(ctx, pkg.ID, version.Exact(pkg.Version), core.DefaultStrategy)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("%s@%s: %w", pkg.ID, pkg.Version, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching metadata: %w", err)
	}
	if fresh.TarballURL == "" {
		return nil, fmt.Errorf("%s@%s: %w", pkg.ID, pkg.Version, ErrNoDownloadURL)
	}
	if fresh.Checksum == "" {
		fresh.Checksum = pkg.Checksum
	}
	return newArtifactInfo(fresh.TarballURL, fresh), nil
}

func newArtifactInfo(url string, pkg *core.Package) *ArtifactInfo {
	return &ArtifactInfo{
		URL:      url,
		Filename: Filename(pkg.ID, pkg.Version),
		Checksum: pkg.Checksum,
	}
}

// Filename is the local file name for a tarball: the last segment of a
// scoped id, the version, and ".tgz".
func Filename(id string, v version.Version) string {
	return lastPathComponent(id) + "-" + v.String() + ".tgz"
}

func lastPathComponent(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
