package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/semverx/fault"
	"github.com/git-pkgs/semverx/fetch"
	"github.com/git-pkgs/semverx/install"
	"github.com/git-pkgs/semverx/internal/core"
	"github.com/git-pkgs/semverx/resolve"
	"github.com/git-pkgs/semverx/subscription"
	"github.com/git-pkgs/semverx/version"
)

func addRangeFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "version", version.Any.String(), "six-slot version range, e.g. 1.stable.*.*.*.*")
}

func newFetchCommand(a *app) *cobra.Command {
	var rangeRaw string
	cmd := &cobra.Command{
		Use:   "fetch <package>",
		Short: "Fetch metadata for the highest matching version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRange(rangeRaw)
			if err != nil {
				return err
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}

			pkg, err := reg.FetchPackage(cmd.Context(), args[0], r, a.cfg.Strategy)
			if err != nil {
				return err
			}
			f, err := pkg.Fault()
			if err != nil {
				return fmt.Errorf("%s: %w", pkg.ID, err)
			}
			printPackage(cmd.OutOrStdout(), pkg, f)
			if fault.IsBlocking(f) {
				return &resolve.Error{Kind: resolve.Panic, PackageID: pkg.ID, Detail: pkg.ErrorMessage}
			}
			return nil
		},
	}
	addRangeFlag(cmd, &rangeRaw)
	return cmd
}

func printPackage(w io.Writer, pkg *core.Package, f fault.State) {
	fmt.Fprintf(w, "%s %s\n", pkg.ID, pkg.Version)
	if pkg.Name != "" && pkg.Name != pkg.ID {
		fmt.Fprintf(w, "  name:    %s\n", pkg.Name)
	}
	if pkg.Description != "" {
		fmt.Fprintf(w, "  about:   %s\n", pkg.Description)
	}
	if pkg.License != "" {
		if lic, err := pkg.NormalizedLicense(); err == nil {
			fmt.Fprintf(w, "  license: %s\n", lic)
		} else {
			fmt.Fprintf(w, "  license: %s (not an SPDX expression)\n", pkg.License)
		}
	}
	fmt.Fprintf(w, "  fault:   %s (%d)\n", f, pkg.FaultState)
	for _, dep := range pkg.Dependencies {
		fmt.Fprintf(w, "  depends: %s\n", dep)
	}
}

func newResolveCommand(a *app) *cobra.Command {
	var (
		rangeRaw string
		remote   bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <package>",
		Short: "Resolve the dependency graph and print the install order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRange(rangeRaw)
			if err != nil {
				return err
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			engine := a.engine(reg)
			w := cmd.OutOrStdout()

			if remote {
				if cmd.Flags().Changed("version") {
					a.logger.Warn("--version is ignored with --remote")
				}
				dag, f, err := engine.ResolveRemote(cmd.Context(), args[0], a.cfg.Strategy)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "path:  %s\n", strings.Join(dag.Path, " -> "))
				fmt.Fprintf(w, "fault: %s (%d)\n", f, dag.FaultState)
				return nil
			}

			res, err := engine.Resolve(cmd.Context(), args[0], r, a.cfg.Strategy)
			if err != nil {
				return err
			}
			for i, id := range res.Order {
				fmt.Fprintf(w, "%d. %s %s\n", i+1, id, res.Packages[id].Version)
			}
			fmt.Fprintf(w, "strategy: %s", res.Applied)
			if res.Applied != res.Strategy {
				fmt.Fprintf(w, " (fallback from %s)", res.Strategy)
			}
			fmt.Fprintln(w)
			if len(res.Trail) > 0 {
				fmt.Fprintf(w, "trail: %s\n", strings.Join(res.Trail, " -> "))
			}
			fmt.Fprintf(w, "fault: %s (%d)\n", res.Fault, res.RawFault)
			return nil
		},
	}
	addRangeFlag(cmd, &rangeRaw)
	cmd.Flags().BoolVar(&remote, "remote", false, "let the registry resolve the graph")
	return cmd
}

func (a *app) engine(reg core.Registry) *resolve.Engine {
	return resolve.New(reg,
		resolve.WithConcurrency(a.cfg.Concurrency),
		resolve.WithLogger(a.logger),
	)
}

func newInstallCommand(a *app) *cobra.Command {
	var (
		rangeRaw string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "install <package>",
		Short: "Resolve, download and verify a package with its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRange(rangeRaw)
			if err != nil {
				return err
			}
			if err := a.setup(cmd); err != nil {
				return err
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}

			fetcher := fetch.NewFetcher(
				fetch.WithToken(a.cfg.Token),
				fetch.WithMaxRetries(a.cfg.MaxRetries),
				fetch.WithLogger(a.logger),
			)
			defer func() { _ = fetcher.Close() }()

			sink := install.Discard
			if output != "" {
				sink = install.DirSink{Dir: output}
			}
			opts := []install.Option{
				install.WithTier(a.cfg.Tier),
				install.WithLogger(a.logger),
			}
			if !a.cfg.VerifyChecksum {
				a.logger.Warn("checksum verification disabled")
				opts = append(opts, install.WithoutVerification())
			}

			in := install.New(a.engine(reg), fetch.NewResolver(reg), fetch.NewCircuitBreakerFetcher(fetcher), sink, opts...)
			report, err := in.Install(cmd.Context(), args[0], r, a.cfg.Strategy)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
	addRangeFlag(cmd, &rangeRaw)
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory to write tarballs to (default: verify only)")
	cmd.Flags().Bool("verify-checksum", true, "verify each tarball against its SHA-256 checksum")
	return cmd
}

func printReport(w io.Writer, report *install.Report) {
	for _, id := range report.Installed {
		fmt.Fprintf(w, "installed %s %s\n", id, report.Result.Packages[id].Version)
	}
	if report.Failed != "" {
		fmt.Fprintf(w, "failed    %s\n", report.Failed)
	}
	for _, id := range report.Skipped {
		if id != report.Failed {
			fmt.Fprintf(w, "skipped   %s\n", id)
		}
	}
	fmt.Fprintf(w, "fault: %s (%d)\n", report.Result.Fault, report.Result.RawFault)
}

func newSubscribeCommand(a *app) *cobra.Command {
	var observer string
	cmd := &cobra.Command{
		Use:   "subscribe <package>",
		Short: "Register for update notifications, or revoke a registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if observer != "" {
				if err := reg.Unsubscribe(cmd.Context(), observer); err != nil {
					return fmt.Errorf("unsubscribing %s: %w", observer, err)
				}
				fmt.Fprintf(w, "unsubscribed %s from %s\n", observer, args[0])
				return nil
			}

			subs := subscription.New(reg, subscription.WithLogger(a.logger))
			id, err := subs.Subscribe(cmd.Context(), args[0], func(_ context.Context, u core.Update) {
				a.logger.Info("update", "package", u.PackageID, "version", u.NewVersion, "type", u.Type)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "subscribed to %s\nobserver: %s\n", args[0], id)
			return nil
		},
	}
	cmd.Flags().StringVar(&observer, "unsubscribe", "", "observer id to revoke")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the semverx version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), VersionString())
		},
	}
}
