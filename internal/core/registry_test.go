package core

import (
	"context"
	"errors"
	"testing"

	"github.com/git-pkgs/semverx/fault"
	"github.com/git-pkgs/semverx/version"
)

type stubRegistry struct {
	tier    AccessTier
	baseURL string
	faults  map[string]int
}

func (s *stubRegistry) Tier() AccessTier { return s.tier }

func (s *stubRegistry) FetchPackage(ctx context.Context, id string, r version.Range, st Strategy) (*Package, error) {
	if id == "missing" {
		return nil, &NotFoundError{ID: id}
	}
	return &Package{ID: id, Version: version.MustParse("1.stable.0.stable.0.stable"), FaultState: s.faults[id]}, nil
}

func (s *stubRegistry) ResolveDag(ctx context.Context, id string, st Strategy) (*DagResult, error) {
	return &DagResult{Path: []string{id}}, nil
}

func (s *stubRegistry) Subscribe(ctx context.Context, id string) (string, error) { return "obs", nil }

func (s *stubRegistry) Unsubscribe(ctx context.Context, observerID string) error { return nil }

func (s *stubRegistry) URLs() URLBuilder { return s }

func (s *stubRegistry) Registry(id, ver string) string { return s.baseURL + "/packages/" + id }
func (s *stubRegistry) Download(id, ver string) string { return "" }
func (s *stubRegistry) PURL(id, ver string) string     { return NewPURL(id, ver, nil) }

func TestBuildURLsOmitsEmpty(t *testing.T) {
	reg := &stubRegistry{tier: Live, baseURL: "https://r.example"}
	got := BuildURLs(reg, "core", "1.stable.0.stable.0.stable")

	if got["registry"] != "https://r.example/packages/core" {
		t.Errorf("registry = %q", got["registry"])
	}
	if _, ok := got["download"]; ok {
		t.Error("empty download URL should be omitted")
	}
	if got["purl"] != "pkg:semverx/core@1.stable.0.stable.0.stable" {
		t.Errorf("purl = %q", got["purl"])
	}
}

func registerStub(tier AccessTier, defaultURL string) {
	Register(tier, defaultURL, func(baseURL string, client *Client) Registry {
		return &stubRegistry{tier: tier, baseURL: baseURL}
	})
}

func TestNewUsesDefaultURL(t *testing.T) {
	registerStub(Local, "http://localhost:8080")

	reg, err := New(Local, "", nil)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if got := reg.(*stubRegistry).baseURL; got != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want default", got)
	}

	reg, err = New(Local, "http://mirror:9000", nil)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if got := reg.(*stubRegistry).baseURL; got != "http://mirror:9000" {
		t.Errorf("baseURL = %q, want override", got)
	}
	if got := DefaultURL(Local); got != "http://localhost:8080" {
		t.Errorf("DefaultURL = %q", got)
	}
}

func TestNewUnknownTier(t *testing.T) {
	_, err := New(AccessTier("staging"), "", nil)
	if !errors.Is(err, ErrUnknownValue) {
		t.Errorf("New(staging) error = %v, want ErrUnknownValue", err)
	}
}

func TestFetchPackageFromPURL(t *testing.T) {
	registerStub(Remote, "https://r.example")

	pkg, err := FetchPackageFromPURL(context.Background(), "pkg:semverx/%40obinexus/core?tier=remote", nil)
	if err != nil {
		t.Fatalf("FetchPackageFromPURL error = %v", err)
	}
	if pkg.ID != "@obinexus/core" {
		t.Errorf("ID = %q, want %q", pkg.ID, "@obinexus/core")
	}

	_, err = FetchPackageFromPURL(context.Background(), "pkg:semverx/core@1.2.3?tier=remote", nil)
	if !errors.Is(err, version.ErrInvalidVersion) {
		t.Errorf("error = %v, want ErrInvalidVersion", err)
	}
}

func TestBulkFetchPackages(t *testing.T) {
	reg := &stubRegistry{tier: Live}
	got, err := BulkFetchPackagesWithConcurrency(context.Background(), reg, []string{"a", "b", "c"}, version.Any, Hybrid, 2)
	if err != nil {
		t.Fatalf("BulkFetchPackages error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d packages, want 3", len(got))
	}
	for _, id := range []string{"a", "b", "c"} {
		if got[id] == nil || got[id].ID != id {
			t.Errorf("missing package %q", id)
		}
	}
}

func TestBulkFetchPackagesReportsFailures(t *testing.T) {
	reg := &stubRegistry{tier: Live, faults: map[string]int{"bad": 17, "neg": -3, "warn": 4}}
	got, err := BulkFetchPackages(context.Background(), reg, []string{"ok", "warn", "bad", "neg", "missing"}, version.Any, Hybrid)

	if len(got) != 2 || got["ok"] == nil || got["warn"] == nil {
		t.Errorf("packages = %v, want ok and warn", got)
	}
	if !errors.Is(err, ErrBlocked) {
		t.Errorf("error = %v, want ErrBlocked", err)
	}
	if !errors.Is(err, fault.ErrDomain) {
		t.Errorf("error = %v, want fault.ErrDomain", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	var fe *FaultError
	if !errors.As(err, &fe) || fe.PackageID != "bad" || fe.State != 17 {
		t.Errorf("FaultError = %+v, want bad at 17", fe)
	}
}

func TestPackageCheck(t *testing.T) {
	tests := []struct {
		state int
		want  error
	}{
		{0, nil},
		{16, nil},
		{17, ErrBlocked},
		{40, ErrBlocked},
		{-1, fault.ErrDomain},
	}
	for _, tt := range tests {
		pkg := &Package{ID: "p", FaultState: tt.state}
		err := pkg.Check()
		if tt.want == nil && err != nil {
			t.Errorf("Check(%d) = %v, want nil", tt.state, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("Check(%d) = %v, want %v", tt.state, err, tt.want)
		}
	}
}

func TestFetchPackageFromPURLBlocked(t *testing.T) {
	Register(Remote, "https://r.example", func(baseURL string, client *Client) Registry {
		return &stubRegistry{tier: Remote, baseURL: baseURL, faults: map[string]int{"bad": 17}}
	})
	defer registerStub(Remote, "https://r.example")

	if _, err := FetchPackageFromPURL(context.Background(), "pkg:semverx/bad?tier=remote", nil); !errors.Is(err, ErrBlocked) {
		t.Errorf("FetchPackageFromPURL(bad) = %v, want ErrBlocked", err)
	}
}

func TestSupportedTiersSorted(t *testing.T) {
	registerStub(Live, "https://r.example")
	registerStub(Local, "http://localhost:8080")

	tiers := SupportedTiers()
	for i := 1; i < len(tiers); i++ {
		if tiers[i-1] >= tiers[i] {
			t.Errorf("SupportedTiers not sorted: %v", tiers)
		}
	}
}
