package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/fang"

	"github.com/git-pkgs/semverx/integrity"
	"github.com/git-pkgs/semverx/internal/config"
	"github.com/git-pkgs/semverx/internal/core"
	"github.com/git-pkgs/semverx/internal/registrytest"
	"github.com/git-pkgs/semverx/resolve"
	"github.com/git-pkgs/semverx/version"
)

// run executes the CLI with an isolated config directory.
func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func newServer(t *testing.T) (*registrytest.Server, *core.Package) {
	t.Helper()
	app := registrytest.Package("app", "1.stable.0.stable.0.stable", 0, "web@1.*.*.*.*.*", "log")
	web := registrytest.Package("web", "1.stable.2.stable.0.stable", 3, "log@1.*.*.*.*.*")
	logPkg := registrytest.Package("log", "1.stable.0.stable.3.stable", 0)

	mem := registrytest.NewMemory().Add(app, web, logPkg)
	mem.AddTarball(app, []byte("app tarball"))
	mem.AddTarball(web, []byte("web tarball"))
	mem.AddTarball(logPkg, []byte("log tarball"))
	return registrytest.NewServer(t, mem), web
}

func TestFetch(t *testing.T) {
	srv, _ := newServer(t)

	out, _, err := run(t, "fetch", "web", "--endpoint", srv.URL, "--version", "1.*.*.*.*.*")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	for _, want := range []string{
		"web 1.stable.2.stable.0.stable",
		"fault:   medium-warning (3)",
		"depends: log@1.*.*.*.*.*",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFetchThreeSlotRange(t *testing.T) {
	_, _, err := run(t, "fetch", "app", "--version", "*.*.*")
	if !errors.Is(err, version.ErrInvalidVersion) {
		t.Fatalf("fetch = %v, want ErrInvalidVersion", err)
	}
	if !strings.Contains(err.Error(), "six slots") {
		t.Errorf("error %q has no hint", err)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv, _ := newServer(t)

	_, _, err := run(t, "fetch", "missing", "--endpoint", srv.URL)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("fetch = %v, want ErrNotFound", err)
	}
}

func TestFetchBlockingFault(t *testing.T) {
	bad := registrytest.Package("bad", "1.stable.0.stable.0.stable", 17)
	bad.ErrorMessage = "corrupted release"
	srv := registrytest.NewServer(t, registrytest.NewMemory().Add(bad))

	out, _, err := run(t, "fetch", "bad", "--endpoint", srv.URL)
	if !errors.Is(err, resolve.ErrPanic) {
		t.Fatalf("fetch = %v, want ErrPanic", err)
	}
	if !strings.Contains(err.Error(), "corrupted release") {
		t.Errorf("error %q lacks registry message", err)
	}
	if !strings.Contains(out, "system-panic (17)") {
		t.Errorf("output = %q", out)
	}
}

func TestUnknownTierFailsClosed(t *testing.T) {
	_, _, err := run(t, "fetch", "app", "--tier", "staging")
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("fetch = %v, want config.ErrInvalid", err)
	}
}

func TestResolve(t *testing.T) {
	srv, _ := newServer(t)

	out, _, err := run(t, "resolve", "app", "--endpoint", srv.URL)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	want := "1. log 1.stable.0.stable.3.stable\n" +
		"2. web 1.stable.2.stable.0.stable\n" +
		"3. app 1.stable.0.stable.0.stable\n" +
		"strategy: hybrid\n" +
		"fault: medium-warning (3)\n"
	if out != want {
		t.Errorf("output =\n%s\nwant\n%s", out, want)
	}
}

func TestFaultShowsClassAndReportedValue(t *testing.T) {
	web := registrytest.Package("web", "1.stable.0.stable.0.stable", 4)
	web.License = "MIT"
	mem := registrytest.NewMemory().Add(
		registrytest.Package("app", "1.stable.0.stable.0.stable", 0, "web"),
		web,
	)
	srv := registrytest.NewServer(t, mem)

	out, _, err := run(t, "fetch", "web", "--endpoint", srv.URL)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	for _, want := range []string{"fault:   medium-warning (4)", "license: MIT"} {
		if !strings.Contains(out, want) {
			t.Errorf("fetch output missing %q:\n%s", want, out)
		}
	}

	out, _, err = run(t, "resolve", "app", "--endpoint", srv.URL)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !strings.HasSuffix(out, "fault: medium-warning (4)\n") {
		t.Errorf("resolve output = %q", out)
	}
}

func TestResolveFallback(t *testing.T) {
	mem := registrytest.NewMemory().Add(
		registrytest.Package("app", "1.stable.0.stable.0.stable", 0, "a", "b"),
		registrytest.Package("a", "1.stable.0.stable.0.stable", 0),
		registrytest.Package("b", "1.stable.0.stable.0.stable", 0),
	)
	srv := registrytest.NewServer(t, mem)

	out, _, err := run(t, "resolve", "app", "--endpoint", srv.URL, "--strategy", "hamiltonian")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !strings.Contains(out, "strategy: hybrid (fallback from hamiltonian)") {
		t.Errorf("output = %q", out)
	}
}

func TestResolveUnknownStrategy(t *testing.T) {
	_, _, err := run(t, "resolve", "app", "--strategy", "dijkstra")
	if !errors.Is(err, core.ErrUnknownValue) {
		t.Errorf("resolve = %v, want ErrUnknownValue", err)
	}
}

func TestResolveRemote(t *testing.T) {
	srv, _ := newServer(t)
	srv.Memory.SetDag("app", &core.DagResult{Path: []string{"app", "web", "log"}, FaultState: 4})

	out, _, err := run(t, "resolve", "app", "--endpoint", srv.URL, "--remote")
	if err != nil {
		t.Fatalf("resolve --remote failed: %v", err)
	}
	want := "path:  app -> web -> log\nfault: medium-warning (4)\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	srv.Memory.SetDag("app", &core.DagResult{Path: []string{"app"}, FaultState: 17})
	if _, _, err := run(t, "resolve", "app", "--endpoint", srv.URL, "--remote"); !errors.Is(err, resolve.ErrPanic) {
		t.Errorf("resolve --remote = %v, want ErrPanic", err)
	}
}

func TestInstall(t *testing.T) {
	srv, _ := newServer(t)
	dir := t.TempDir()

	out, _, err := run(t, "install", "app", "--endpoint", srv.URL, "--output", dir)
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if !strings.HasPrefix(out, "installed log 1.stable.0.stable.3.stable\n") {
		t.Errorf("output = %q", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, "web-1.stable.2.stable.0.stable.tgz"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "web tarball" {
		t.Errorf("web tarball = %q", data)
	}
}

func TestInstallChecksumMismatch(t *testing.T) {
	srv, web := newServer(t)
	srv.Memory.SetTarball("web", web.Version, []byte("tampered"))

	out, _, err := run(t, "install", "app", "--endpoint", srv.URL)
	if !errors.Is(err, integrity.ErrChecksumMismatch) {
		t.Fatalf("install = %v, want ErrChecksumMismatch", err)
	}
	for _, want := range []string{"installed log", "failed    web", "skipped   app"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestInstallWithoutVerification(t *testing.T) {
	srv, web := newServer(t)
	srv.Memory.SetTarball("web", web.Version, []byte("tampered"))

	_, stderr, err := run(t, "install", "app", "--endpoint", srv.URL, "--verify-checksum=false")
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if !strings.Contains(stderr, "checksum verification disabled") {
		t.Errorf("stderr = %q, want warning", stderr)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	srv, _ := newServer(t)

	out, _, err := run(t, "subscribe", "app", "--endpoint", srv.URL)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	observers := srv.Memory.Observers()
	if len(observers) != 1 {
		t.Fatalf("registry observers = %v, want 1", observers)
	}
	if !strings.Contains(out, "observer: "+observers[0]) {
		t.Errorf("output = %q", out)
	}

	if _, _, err := run(t, "subscribe", "app", "--endpoint", srv.URL, "--unsubscribe", observers[0]); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if !srv.Memory.Revoked(observers[0]) {
		t.Error("observer not revoked")
	}

	if _, _, err := run(t, "subscribe", "app", "--endpoint", srv.URL, "--unsubscribe", observers[0]); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second unsubscribe = %v, want ErrNotFound", err)
	}
}

func TestTokenFromEnvironment(t *testing.T) {
	srv, _ := newServer(t)
	srv.Token = "secret"

	if _, _, err := run(t, "fetch", "app", "--endpoint", srv.URL, "--max-retries", "0"); err == nil {
		t.Fatal("fetch without token succeeded")
	}

	t.Setenv("SEMVERX_TOKEN", "secret")
	if _, _, err := run(t, "fetch", "app", "--endpoint", srv.URL); err != nil {
		t.Errorf("fetch with env token failed: %v", err)
	}
}

func TestConfigFile(t *testing.T) {
	srv, _ := newServer(t)
	path := filepath.Join(t.TempDir(), "semverx.yaml")
	body := "endpoint: " + srv.URL + "\nstrategy: eulerian\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	out, _, err := run(t, "resolve", "app", "--config", path)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !strings.Contains(out, "strategy: eulerian") {
		t.Errorf("output = %q", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "dev\n" {
		t.Errorf("version = %q, want dev", out)
	}
}

func TestErrorHandler(t *testing.T) {
	var buf bytes.Buffer
	ErrorHandler(&buf, fang.Styles{}, errors.New("app: package not found"))
	if got := buf.String(); got != "semverx: app: package not found\n" {
		t.Errorf("ErrorHandler wrote %q", got)
	}
}
