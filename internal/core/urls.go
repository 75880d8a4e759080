package core

// URLBuilder constructs URLs for a registry tier.
type URLBuilder interface {
	// Registry is the metadata URL for a package, optionally pinned to a version.
	Registry(id, ver string) string
	// Download is the tarball URL for a package version.
	Download(id, ver string) string
	// PURL is the package URL identifying a package version.
	PURL(id, ver string) string
}

// BuildURLs returns the non-empty URLs for a package keyed "registry",
// "download" and "purl".
func BuildURLs(urls URLBuilder, id, ver string) map[string]string {
	result := make(map[string]string, 3)
	for key, u := range map[string]string{
		"registry": urls.Registry(id, ver),
		"download": urls.Download(id, ver),
		"purl":     urls.PURL(id, ver),
	} {
		if u != "" {
			result[key] = u
		}
	}
	return result
}
