// Package cli implements the semverx command line.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/git-pkgs/semverx/client"
	"github.com/git-pkgs/semverx/internal/config"
	"github.com/git-pkgs/semverx/internal/core"
	_ "github.com/git-pkgs/semverx/internal/remote"
	"github.com/git-pkgs/semverx/version"
)

var (
	// Version is the release version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
)

// app carries state shared by every subcommand of one invocation.
type app struct {
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *log.Logger
}

// NewRootCommand builds the command tree. Each call returns an independent
// tree so tests can run commands in parallel.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "semverx",
		Short: "Resolve and install SemVerX packages",
		Long: `semverx resolves package graphs whose versions carry a maturity state
per component (major.state.minor.state.patch.state) and refuses graphs whose
fault state reaches system panic.

Examples:
  semverx fetch @obinexus/core
  semverx resolve app --strategy astar
  semverx install app --version '1.*.*.*.*.*' --output ./vendor
  semverx subscribe app`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/semverx/config.yaml)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	pf.String("endpoint", "", "registry base URL (default depends on --tier)")
	pf.String("tier", string(core.Live), "access tier: live, local or remote")
	pf.String("strategy", string(core.DefaultStrategy), "resolution strategy: eulerian, hamiltonian, astar or hybrid")
	pf.String("token", "", "bearer token sent to the registry")
	pf.Int("concurrency", config.Default().Concurrency, "maximum parallel metadata fetches")
	pf.Duration("timeout", config.Default().Timeout, "per-request timeout")
	pf.Int("max-retries", config.Default().MaxRetries, "retries on 429 and 5xx responses")
	pf.String("log-level", config.Default().LogLevel, "log level: debug, info, warn or error")

	root.AddCommand(
		newFetchCommand(a),
		newResolveCommand(a),
		newInstallCommand(a),
		newSubscribeCommand(a),
		newVersionCommand(),
	)
	return root
}

// setup loads configuration with cmd's flags applied and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: a.cfgFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = log.NewWithOptions(cmd.ErrOrStderr(), log.Options{Prefix: "semverx"})
	a.logger.SetLevel(cfg.Level())
	if a.verbose {
		a.logger.SetLevel(log.DebugLevel)
	}
	if cfg.Path != "" {
		a.logger.Debug("loaded config", "path", cfg.Path)
	}
	return nil
}

func (a *app) client() *client.Client {
	return client.NewClient(
		client.WithTimeout(a.cfg.Timeout),
		client.WithMaxRetries(a.cfg.MaxRetries),
		client.WithToken(a.cfg.Token),
		client.WithLogger(a.logger),
	)
}

func (a *app) registry() (core.Registry, error) {
	reg, err := core.New(a.cfg.Tier, a.cfg.Endpoint, a.client())
	if err != nil {
		return nil, err
	}
	a.logger.Debug("using registry", "tier", a.cfg.Tier, "url", reg.URLs().Registry("", ""))
	return reg, nil
}

// parseRange parses the --version flag. Three-slot ranges from other
// semver tools are rejected with a hint rather than widened.
func parseRange(raw string) (version.Range, error) {
	r, err := version.ParseRange(raw)
	var pe *version.ParseError
	if errors.As(err, &pe) && pe.Reason == version.ReasonTokenCount {
		return version.Range{}, fmt.Errorf("--version: %w (ranges have six slots, e.g. %s)", err, version.Any)
	}
	if err != nil {
		return version.Range{}, fmt.Errorf("--version: %w", err)
	}
	return r, nil
}

// ErrorHandler prints err as a single line. It is passed to fang.Execute.
func ErrorHandler(w io.Writer, _ fang.Styles, err error) {
	_, _ = fmt.Fprintf(w, "semverx: %s\n", err)
}

// VersionString returns the version with the commit when one was linked in.
func VersionString() string {
	if Commit == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

