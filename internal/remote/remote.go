// Package remote provides a registry client for the SemVerX HTTP API.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/git-pkgs/semverx/internal/core"
	"github.com/git-pkgs/semverx/version"
)

const (
	DefaultURL = "https://r.obinexus.org"
	LocalURL   = "http://localhost:8080"
)

func init() {
	for tier, endpoint := range map[core.AccessTier]string{
		core.Live:   DefaultURL,
		core.Remote: DefaultURL,
		core.Local:  LocalURL,
	} {
		core.Register(tier, endpoint, func(baseURL string, client *core.Client) core.Registry {
			return New(tier, baseURL, client)
		})
	}
}

type Registry struct {
	baseURL string
	tier    core.AccessTier
	client  *core.Client
	urls    *URLs
}

func New(tier core.AccessTier, baseURL string, client *core.Client) *Registry {
	if baseURL == "" {
		baseURL = DefaultURL
		if tier == core.Local {
			baseURL = LocalURL
		}
	}
	if client == nil {
		client = core.DefaultClient()
	}
	r := &Registry{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tier:    tier,
		client:  client,
	}
	r.urls = &URLs{baseURL: r.baseURL, tier: tier}
	return r
}

func (r *Registry) Tier() core.AccessTier {
	return r.tier
}

func (r *Registry) URLs() core.URLBuilder {
	return r.urls
}

func (r *Registry) endpoint(parts ...string) string {
	return r.baseURL + "/" + string(r.tier) + "/" + strings.Join(parts, "/")
}

func (r *Registry) FetchPackage(ctx context.Context, id string, rng version.Range, s core.Strategy) (*core.Package, error) {
	q := url.Values{}
	q.Set("version", rng.String())
	q.Set("strategy", string(s))
	u := r.endpoint("packages", url.PathEscape(id)) + "?" + q.Encode()

	var pkg core.Package
	if err := r.client.GetJSON(ctx, u, &pkg); err != nil {
		if isNotFound(err) {
			nf := &core.NotFoundError{Tier: string(r.tier), ID: id}
			if !rng.IsAny() {
				nf.Version = rng.String()
			}
			return nil, nf
		}
		return nil, err
	}
	if pkg.ID == "" {
		pkg.ID = id
	}
	return &pkg, nil
}

type resolveRequest struct {
	PackageID string        `json:"package_id"`
	Strategy  core.Strategy `json:"strategy"`
}

func (r *Registry) ResolveDag(ctx context.Context, id string, s core.Strategy) (*core.DagResult, error) {
	var dag core.DagResult
	err := r.client.PostJSON(ctx, r.endpoint("resolve"), resolveRequest{PackageID: id, Strategy: s}, &dag)
	if err != nil {
		if isNotFound(err) {
			return nil, &core.NotFoundError{Tier: string(r.tier), ID: id}
		}
		return nil, err
	}
	return &dag, nil
}

type subscribeRequest struct {
	PackageID string `json:"package_id"`
}

type subscribeResponse struct {
	ObserverID string `json:"observer_id"`
}

func (r *Registry) Subscribe(ctx context.Context, id string) (string, error) {
	var resp subscribeResponse
	if err := r.client.PostJSON(ctx, r.endpoint("subscribe"), subscribeRequest{PackageID: id}, &resp); err != nil {
		if isNotFound(err) {
			return "", &core.NotFoundError{Tier: string(r.tier), ID: id}
		}
		return "", err
	}
	if resp.ObserverID == "" {
		return "", fmt.Errorf("subscribe %s: registry returned no observer id", id)
	}
	return resp.ObserverID, nil
}

func (r *Registry) Unsubscribe(ctx context.Context, observerID string) error {
	if err := r.client.Delete(ctx, r.endpoint("unsubscribe", url.PathEscape(observerID))); err != nil {
		if isNotFound(err) {
			return &core.NotFoundError{Tier: string(r.tier), ID: observerID}
		}
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	var httpErr *core.HTTPError
	return errors.As(err, &httpErr) && httpErr.IsNotFound()
}

type URLs struct {
	baseURL string
	tier    core.AccessTier
}

func (u *URLs) Registry(id, ver string) string {
	base := fmt.Sprintf("%s/%s/packages/%s", u.baseURL, u.tier, url.PathEscape(id))
	if ver != "" {
		return base + "?version=" + url.QueryEscape(ver)
	}
	return base
}

func (u *URLs) Download(id, ver string) string {
	if ver == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/tarballs/%s/%s", u.baseURL, u.tier, ver, id)
}

func (u *URLs) PURL(id, ver string) string {
	var qualifiers map[string]string
	if u.tier != core.Live {
		qualifiers = map[string]string{core.QualifierTier: string(u.tier)}
	}
	return core.NewPURL(id, ver, qualifiers)
}
