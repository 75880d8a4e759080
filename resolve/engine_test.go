package resolve

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/git-pkgs/semverx/fault"
	"github.com/git-pkgs/semverx/internal/core"
	"github.com/git-pkgs/semverx/internal/registrytest"
	"github.com/git-pkgs/semverx/version"
)

const v1 = "1.stable.0.stable.0.stable"

// diamond is app -> web, db, log; web -> log, util; db -> util.
func diamond() *registrytest.Memory {
	return registrytest.NewMemory().Add(
		registrytest.Package("app", v1, 0, "web@1.*.*.*.*.*", "db", "log@1.*.*.*.*.*"),
		registrytest.Package("web", v1, 1, "log@1.*.*.*.*.*", "util"),
		registrytest.Package("db", v1, 0, "util"),
		registrytest.Package("log", v1, 0),
		registrytest.Package("util", v1, 3),
	)
}

func TestResolveHybrid(t *testing.T) {
	t.Parallel()
	mem := diamond()

	res, err := New(mem).Resolve(context.Background(), "app", version.Any, core.Hybrid)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := []string{"log", "util", "db", "web", "app"}
	if !slices.Equal(res.Order, want) {
		t.Errorf("Order = %v, want %v", res.Order, want)
	}
	if res.Fault != fault.MediumWarning {
		t.Errorf("Fault = %v, want %v", res.Fault, fault.MediumWarning)
	}
	if res.RawFault != 3 {
		t.Errorf("RawFault = %d, want 3", res.RawFault)
	}
	if res.Applied != core.Hybrid || res.Strategy != core.Hybrid {
		t.Errorf("Strategy/Applied = %s/%s, want hybrid/hybrid", res.Strategy, res.Applied)
	}
	if len(res.Packages) != 5 {
		t.Errorf("len(Packages) = %d, want 5", len(res.Packages))
	}
	for _, id := range want {
		if n := mem.FetchCount(id); n != 1 {
			t.Errorf("FetchCount(%s) = %d, want 1", id, n)
		}
	}
}

func TestResolveDeterministicUnderRandomArrival(t *testing.T) {
	t.Parallel()
	want := []string{"log", "util", "db", "web", "app"}

	for i := range 20 {
		mem := diamond()
		mem.Delay = func(string) time.Duration {
			return time.Duration(rand.IntN(3000)) * time.Microsecond
		}
		res, err := New(mem).Resolve(context.Background(), "app", version.Any, core.Hybrid)
		if err != nil {
			t.Fatalf("run %d: Resolve failed: %v", i, err)
		}
		if !slices.Equal(res.Order, want) {
			t.Fatalf("run %d: Order = %v, want %v", i, res.Order, want)
		}
	}
}

func TestResolveDefaultStrategy(t *testing.T) {
	t.Parallel()
	res, err := New(diamond()).Resolve(context.Background(), "app", version.Any, "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Strategy != core.Hybrid {
		t.Errorf("Strategy = %q, want hybrid", res.Strategy)
	}
}

func TestResolveUnknownStrategy(t *testing.T) {
	t.Parallel()
	_, err := New(diamond()).Resolve(context.Background(), "app", version.Any, "dijkstra")
	if !errors.Is(err, core.ErrUnknownValue) {
		t.Errorf("Resolve = %v, want ErrUnknownValue", err)
	}
}

func TestResolveCycle(t *testing.T) {
	t.Parallel()
	mem := registrytest.NewMemory().Add(
		registrytest.Package("A", v1, 0, "B"),
		registrytest.Package("B", v1, 0, "C"),
		registrytest.Package("C", v1, 0, "A"),
	)

	_, err := New(mem).Resolve(context.Background(), "A", version.Any, core.Hybrid)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("Resolve = %v, want ErrCyclicDependency", err)
	}
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	want := []string{"A", "B", "C", "A"}
	if !slices.Equal(rerr.Path, want) {
		t.Errorf("Path = %v, want %v", rerr.Path, want)
	}
	if rerr.Kind != CyclicDependency {
		t.Errorf("Kind = %v, want %v", rerr.Kind, CyclicDependency)
	}
}

func TestResolveRootPanicStopsBeforeDependencies(t *testing.T) {
	t.Parallel()
	root := registrytest.Package("app", v1, 17, "web", "log")
	root.ErrorMessage = "build pipeline compromised"
	mem := registrytest.NewMemory().Add(
		root,
		registrytest.Package("web", v1, 0),
		registrytest.Package("log", v1, 0),
	)

	_, err := New(mem).Resolve(context.Background(), "app", version.Any, core.Hybrid)
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("Resolve = %v, want ErrPanic", err)
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		if rerr.PackageID != "app" {
			t.Errorf("PackageID = %q, want app", rerr.PackageID)
		}
		if rerr.Detail != root.ErrorMessage {
			t.Errorf("Detail = %q, want %q", rerr.Detail, root.ErrorMessage)
		}
	}
	if got := mem.Fetches(); !slices.Equal(got, []string{"app"}) {
		t.Errorf("Fetches = %v, want [app]", got)
	}
}

func TestResolveFaultBoundary(t *testing.T) {
	t.Parallel()
	tests := []struct {
		fault   int
		wantErr bool
	}{
		{12, false},
		{16, false},
		{17, true},
		{40, true},
	}
	for _, tt := range tests {
		mem := registrytest.NewMemory().Add(
			registrytest.Package("app", v1, 0, "dep"),
			registrytest.Package("dep", v1, tt.fault),
		)
		_, err := New(mem).Resolve(context.Background(), "app", version.Any, core.Hybrid)
		if got := errors.Is(err, ErrPanic); got != tt.wantErr {
			t.Errorf("fault %d: errors.Is(err, ErrPanic) = %v, want %v (err %v)", tt.fault, got, tt.wantErr, err)
		}
	}
}

func TestResolveDependencyPanic(t *testing.T) {
	t.Parallel()
	mem := registrytest.NewMemory().Add(
		registrytest.Package("app", v1, 0, "web"),
		registrytest.Package("web", v1, 0, "bad"),
		registrytest.Package("bad", v1, 17, "never"),
		registrytest.Package("never", v1, 0),
	)

	_, err := New(mem).Resolve(context.Background(), "app", version.Any, core.Hybrid)
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != Panic {
		t.Fatalf("Resolve = %v, want Panic", err)
	}
	if rerr.PackageID != "bad" {
		t.Errorf("PackageID = %q, want bad", rerr.PackageID)
	}
	if n := mem.FetchCount("never"); n != 0 {
		t.Errorf("FetchCount(never) = %d, want 0", n)
	}
}

func TestResolveInvalidFaultState(t *testing.T) {
	t.Parallel()
	mem := registrytest.NewMemory().Add(registrytest.Package("app", v1, -1))

	_, err := New(mem).Resolve(context.Background(), "app", version.Any, core.Hybrid)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("Resolve = %v, want ErrFetchFailed", err)
	}
	if !errors.Is(err, fault.ErrDomain) {
		t.Errorf("expected the fault domain error to be wrapped, got %v", err)
	}
}

func TestResolveNotFound(t *testing.T) {
	t.Parallel()
	mem := registrytest.NewMemory().Add(registrytest.Package("app", v1, 0, "ghost"))

	_, err := New(mem).Resolve(context.Background(), "app", version.Any, core.Hybrid)
	if !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("Resolve = %v, want ErrPackageNotFound", err)
	}
	var rerr *Error
	if errors.As(err, &rerr) && rerr.PackageID != "ghost" {
		t.Errorf("PackageID = %q, want ghost", rerr.PackageID)
	}
	if !errors.Is(err, core.ErrNotFound) {
		t.Error("expected the registry's not found error to be wrapped")
	}

	_, err = New(mem).Resolve(context.Background(), "nope", version.Any, core.Hybrid)
	if !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("Resolve(nope) = %v, want ErrPackageNotFound", err)
	}
}

func TestResolveFetchFailed(t *testing.T) {
	t.Parallel()
	mem := registrytest.NewMemory().Add(registrytest.Package("app", v1, 0, "bad@1.2.3"))

	_, err := New(mem).Resolve(context.Background(), "app", version.Any, core.Hybrid)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("Resolve = %v, want ErrFetchFailed for malformed dependency", err)
	}
	if !errors.Is(err, version.ErrInvalidVersion) {
		t.Errorf("expected parse error to be wrapped, got %v", err)
	}
}

func TestResolveConflict(t *testing.T) {
	t.Parallel()

	t.Run("across dependents", func(t *testing.T) {
		t.Parallel()
		mem := registrytest.NewMemory().Add(
			registrytest.Package("app", v1, 0, "web@1.*.*.*.*.*", "log@1.*.*.*.*.*"),
			registrytest.Package("web", v1, 0, "log@2.*.*.*.*.*"),
			registrytest.Package("log", v1, 0),
			registrytest.Package("log", "2.stable.0.stable.0.stable", 0),
		)

		_, err := New(mem).Resolve(context.Background(), "app", version.Any, core.Hybrid)
		var rerr *Error
		if !errors.As(err, &rerr) || rerr.Kind != Conflict {
			t.Fatalf("Resolve = %v, want Conflict", err)
		}
		if !errors.Is(err, ErrConflict) {
			t.Error("errors.Is(err, ErrConflict) = false")
		}
		if rerr.PackageID != "log" {
			t.Errorf("PackageID = %q, want log", rerr.PackageID)
		}
		if rerr.RangeA.String() != "1.*.*.*.*.*" || rerr.RangeB.String() != "2.*.*.*.*.*" {
			t.Errorf("ranges = %s vs %s, want 1.*.*.*.*.* vs 2.*.*.*.*.*", rerr.RangeA, rerr.RangeB)
		}
	})

	t.Run("same declarer", func(t *testing.T) {
		t.Parallel()
		mem := registrytest.NewMemory().Add(
			registrytest.Package("app", v1, 0, "log@1.*.*.*.*.*", "log@2.*.*.*.*.*"),
			registrytest.Package("log", v1, 0),
		)

		_, err := New(mem).Resolve(context.Background(), "app", version.Any, core.Hybrid)
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("Resolve = %v, want ErrConflict", err)
		}
	})
}

func TestResolveCancellation(t *testing.T) {
	t.Parallel()
	mem := diamond()
	mem.Delay = func(id string) time.Duration {
		if id == "app" {
			return 0
		}
		return time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := New(mem).Resolve(ctx, "app", version.Any, core.Hybrid)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Resolve = %v, want context.DeadlineExceeded", err)
	}
	if res != nil {
		t.Errorf("Result = %+v, want nil", res)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Resolve took %v after cancellation", elapsed)
	}
}

func TestResolveRemote(t *testing.T) {
	t.Parallel()
	mem := registrytest.NewMemory()
	mem.SetDag("app", &core.DagResult{Path: []string{"log", "app"}, FaultState: 4})
	mem.SetDag("bad", &core.DagResult{Path: []string{"bad"}, FaultState: 17})
	e := New(mem)
	ctx := context.Background()

	dag, state, err := e.ResolveRemote(ctx, "app", core.AStar)
	if err != nil {
		t.Fatalf("ResolveRemote failed: %v", err)
	}
	if !slices.Equal(dag.Path, []string{"log", "app"}) {
		t.Errorf("Path = %v", dag.Path)
	}
	if state != fault.MediumWarning {
		t.Errorf("state = %v, want %v", state, fault.MediumWarning)
	}

	if _, _, err := e.ResolveRemote(ctx, "bad", core.Hybrid); !errors.Is(err, ErrPanic) {
		t.Errorf("ResolveRemote(bad) = %v, want ErrPanic", err)
	}
	if _, _, err := e.ResolveRemote(ctx, "missing", core.Hybrid); !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("ResolveRemote(missing) = %v, want ErrPackageNotFound", err)
	}
}
