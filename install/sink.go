package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/git-pkgs/semverx/fetch"
	"github.com/git-pkgs/semverx/internal/core"
)

// Discard is a Sink that drops every tarball.
var Discard Sink = discard{}

type discard struct{}

func (discard) Install(context.Context, *core.Package, []byte) error { return nil }

// DirSink writes each tarball into Dir as <name>-<version>.tgz.
type DirSink struct {
	Dir string
}

func (d DirSink) Install(ctx context.Context, pkg *core.Package, data []byte) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(d.Dir, fetch.Filename(pkg.ID, pkg.Version))

	tmp, err := os.CreateTemp(d.Dir, ".semverx-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
