package core

import (
	"context"
	"fmt"
	"strings"

	packageurl "github.com/package-url/packageurl-go"

	"github.com/git-pkgs/semverx/version"
)

// PURLType is the package URL type used for SemVerX packages.
const PURLType = "semverx"

// Qualifier keys understood by NewFromPURL.
const (
	QualifierTier          = "tier"
	QualifierRepositoryURL = "repository_url"
)

// PURL wraps packageurl.PackageURL with registry-specific helpers.
type PURL struct {
	packageurl.PackageURL
}

// FullName returns the package id as the registry expects it:
// "@obinexus/core" for pkg:semverx/%40obinexus/core.
func (p PURL) FullName() string {
	if p.Namespace == "" {
		return p.Name
	}
	return p.Namespace + "/" + p.Name
}

// Tier returns the tier qualifier, defaulting to Live.
func (p PURL) Tier() (AccessTier, error) {
	raw, ok := p.Qualifiers.Map()[QualifierTier]
	if !ok {
		return Live, nil
	}
	return ParseTier(raw)
}

// ParsePURL parses a Package URL string into its components.
// Supports both package PURLs (pkg:semverx/core) and version PURLs
// (pkg:semverx/core@1.stable.0.stable.0.stable).
func ParsePURL(purl string) (*PURL, error) {
	p, err := packageurl.FromString(purl)
	if err != nil {
		return nil, err
	}
	if p.Type != PURLType {
		return nil, fmt.Errorf("purl type %q: %w", p.Type, ErrUnknownValue)
	}
	return &PURL{p}, nil
}

// NewPURL builds the package URL for id at ver. ver may be empty.
func NewPURL(id, ver string, qualifiers map[string]string) string {
	namespace, name := "", id
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		namespace, name = id[:idx], id[idx+1:]
	}
	var q packageurl.Qualifiers
	if len(qualifiers) > 0 {
		q = packageurl.QualifiersFromMap(qualifiers)
	}
	return packageurl.NewPackageURL(PURLType, namespace, name, ver, q, "").ToString()
}

// NewFromPURL creates a registry client from a PURL and returns the parsed components.
// Returns the registry, package id, and version (empty if not in PURL).
// A repository_url qualifier overrides the tier's default endpoint.
func NewFromPURL(purl string, client *Client) (Registry, string, string, error) {
	p, err := ParsePURL(purl)
	if err != nil {
		return nil, "", "", err
	}

	tier, err := p.Tier()
	if err != nil {
		return nil, "", "", err
	}

	reg, err := New(tier, p.Qualifiers.Map()[QualifierRepositoryURL], client)
	if err != nil {
		return nil, "", "", err
	}

	return reg, p.FullName(), p.Version, nil
}

// FetchPackageFromPURL fetches package metadata using a PURL. A versioned
// PURL pins the exact version; otherwise the highest version is returned.
// Packages whose fault state is negative or blocking are rejected.
func FetchPackageFromPURL(ctx context.Context, purl string, client *Client) (*Package, error) {
	reg, id, ver, err := NewFromPURL(purl, client)
	if err != nil {
		return nil, err
	}

	r := version.Any
	if ver != "" {
		v, err := version.Parse(ver)
		if err != nil {
			return nil, err
		}
		r = version.Exact(v)
	}

	pkg, err := reg.FetchPackage(ctx, id, r, DefaultStrategy)
	if err != nil {
		return nil, err
	}
	if err := pkg.Check(); err != nil {
		return nil, err
	}
	return pkg, nil
}
