package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	simple "github.com/cochaviz/stemcell/config"
	"github.com/cochaviz/stemcell/internal/agent"
	"github.com/cochaviz/stemcell/internal/logging"
	"github.com/cochaviz/stemcell/internal/setup"
	"github.com/cochaviz/stemcell/internal/stemcell"
	"github.com/cochaviz/stemcell/internal/stemcell/libvirt"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	app := &cli{stderr: os.Stderr, levelVar: &levelVar}
	app.logger = logging.NewCLI(app.stderr, &levelVar)
	slog.SetDefault(app.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := app.newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			app.logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		app.logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

type cli struct {
	stderr   io.Writer
	levelVar *slog.LevelVar
	logger   *slog.Logger
}

func (c *cli) newRootCommand() *cobra.Command {
	logLevel := defaultLogLevel
	logFormat := defaultLogFormat

	root := &cobra.Command{
		Use:           "stemcell",
		Short:         "Build BOSH stemcells by driving veewee and vagrant",
		Version:       agent.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", defaultLogFormat, "Log output format (text, json)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		c.levelVar.Set(level)

		mode, err := logging.ParseMode(logFormat)
		if err != nil {
			return err
		}
		c.logger = logging.New(mode, c.stderr, c.levelVar)
		slog.SetDefault(c.logger)
		setup.SetLogger(c.logger.With("component", "setup"))
		return nil
	}

	root.AddCommand(
		c.newBuildCommand(),
		c.newManifestCommand(),
		c.newTypesCommand(),
		c.newSetupCommand(),
	)
	return root
}

// buildFlags holds the flag values that map onto stemcell.Options.
type buildFlags struct {
	optionsFile  string
	manifestFile string
	connectURI   string
	sshPort      int
	opts         stemcell.Options
}

func (f *buildFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.optionsFile, "options", setup.DefaultOptionsFile(), "YAML options file; flags take precedence")
	flags.StringVar(&f.manifestFile, "manifest", "", "YAML file merged over the computed stemcell.MF")
	flags.StringVar(&f.connectURI, "connect-uri", libvirt.DefaultConnectURI, "Libvirt connection URI used to clean up kvm domains")

	flags.StringVar(&f.opts.Name, "name", "", "Stemcell and VM name (default \""+stemcell.DefaultStemcellName+"\")")
	flags.StringVar(&f.opts.Target, "target", "", "Path of the stemcell archive (default <prefix>/bosh-<type>-<version>.tgz)")
	flags.StringVar(&f.opts.Infrastructure, "infrastructure", "", "Target infrastructure (default \""+stemcell.DefaultInfrastructure+"\")")
	flags.StringVar(&f.opts.AgentSrcPath, "agent-src", "", "Agent gem or source directory (default ./bosh_agent-<version>.gem)")
	flags.StringVar(&f.opts.Architecture, "arch", "", "Target architecture (default \""+stemcell.DefaultArchitecture+"\")")
	flags.StringVar(&f.opts.Prefix, "prefix", "", "Staging directory (default: current directory)")
	flags.StringVar(&f.opts.TemplatesDir, "templates-dir", "", "Directory holding one definition directory per type (default ./templates)")
	flags.StringVar(&f.opts.Provider, "provider", "", "veewee provider: vbox, kvm, vmfusion, parallels (default \""+stemcell.DefaultProvider+"\")")
	flags.StringVar(&f.opts.ISO, "iso", "", "Installer ISO URL")
	flags.StringVar(&f.opts.ISOMD5, "iso-md5", "", "MD5 of the installer ISO; required with --iso")
	flags.StringVar(&f.opts.ISOFilename, "iso-filename", "", "Local file name of the installer ISO")
	flags.StringVar(&f.opts.ReleaseManifest, "release-manifest", "", "Release manifest (centosmicro)")
	flags.StringVar(&f.opts.ReleaseTar, "release-tar", "", "Release tarball (centosmicro)")
	flags.StringVar(&f.opts.PackageCompilerTar, "package-compiler", "", "Package compiler tarball or directory (centosmicro)")
	flags.StringVar(&f.opts.SSH.Host, "ssh-host", "", "Build VM SSH host (centosmicro)")
	flags.IntVar(&f.sshPort, "ssh-port", 0, "Build VM SSH port (centosmicro)")
	flags.StringVar(&f.opts.SSH.User, "ssh-user", "", "Build VM SSH user (centosmicro)")
	flags.StringVar(&f.opts.SSH.Password, "ssh-password", "", "Build VM SSH password (centosmicro)")
	flags.StringVar(&f.opts.SSH.PrivateKeyPath, "ssh-key", "", "Build VM SSH private key (centosmicro)")
}

// request loads the options file and lays the changed flags over it.
func (f *buildFlags) request(cmd *cobra.Command, kindArg string) (simple.BuildRequest, error) {
	kind, err := stemcell.ParseKind(kindArg)
	if err != nil {
		return simple.BuildRequest{}, err
	}

	optional := !cmd.Flags().Changed("options")
	opts, err := setup.LoadOptions(f.optionsFile, optional)
	if err != nil {
		return simple.BuildRequest{}, err
	}
	f.opts.SSH.Port = f.sshPort
	opts = overlayOptions(opts, f.opts, cmd.Flags().Changed)

	var manifest map[string]any
	if f.manifestFile != "" {
		manifest, err = setup.LoadManifest(f.manifestFile)
		if err != nil {
			return simple.BuildRequest{}, err
		}
	}

	return simple.BuildRequest{
		Kind:       kind,
		Options:    opts,
		Manifest:   manifest,
		ConnectURI: f.connectURI,
	}, nil
}

// overlayOptions copies every field of flags whose flag was set onto base.
func overlayOptions(base, flags stemcell.Options, changed func(string) bool) stemcell.Options {
	set := func(name string, dst *string, value string) {
		if changed(name) {
			*dst = value
		}
	}
	set("name", &base.Name, flags.Name)
	set("target", &base.Target, flags.Target)
	set("infrastructure", &base.Infrastructure, flags.Infrastructure)
	set("agent-src", &base.AgentSrcPath, flags.AgentSrcPath)
	set("arch", &base.Architecture, flags.Architecture)
	set("prefix", &base.Prefix, flags.Prefix)
	set("templates-dir", &base.TemplatesDir, flags.TemplatesDir)
	set("provider", &base.Provider, flags.Provider)
	set("iso", &base.ISO, flags.ISO)
	set("iso-md5", &base.ISOMD5, flags.ISOMD5)
	set("iso-filename", &base.ISOFilename, flags.ISOFilename)
	set("release-manifest", &base.ReleaseManifest, flags.ReleaseManifest)
	set("release-tar", &base.ReleaseTar, flags.ReleaseTar)
	set("package-compiler", &base.PackageCompilerTar, flags.PackageCompilerTar)
	set("ssh-host", &base.SSH.Host, flags.SSH.Host)
	set("ssh-user", &base.SSH.User, flags.SSH.User)
	set("ssh-password", &base.SSH.Password, flags.SSH.Password)
	set("ssh-key", &base.SSH.PrivateKeyPath, flags.SSH.PrivateKeyPath)
	if changed("ssh-port") {
		base.SSH.Port = flags.SSH.Port
	}
	return base
}

func (c *cli) newBuildCommand() *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build <type>",
		Args:  cobra.ExactArgs(1),
		Short: "Build a stemcell of the given type (" + kindList() + ")",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd, args[0])
			if err != nil {
				return err
			}

			cmdLogger := c.logger.With("command", "build")
			cmdLogger.Info("starting build", "type", string(req.Kind), "options_file", flags.optionsFile)

			if err := simple.Build(cmd.Context(), req, cmdLogger); err != nil {
				cmdLogger.Error("build failed", "error", err)
				return err
			}

			cmdLogger.Info("build completed")
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) newManifestCommand() *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "manifest <type>",
		Args:  cobra.ExactArgs(1),
		Short: "Print the stemcell.MF a build would write",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd, args[0])
			if err != nil {
				return err
			}

			manifest, err := simple.ResolveManifest(req)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(map[string]any(manifest)); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) newTypesCommand() *cobra.Command {
	var templatesDir string

	cmd := &cobra.Command{
		Use:   "types",
		Short: "List stemcell types and whether a definition is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, available, err := simple.List(templatesDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, kind := range kinds {
				fmt.Fprintf(out, "%s\t(definition: %t)\n", kind, available[i])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&templatesDir, "templates-dir", stemcell.DefaultTemplatesDir, "Directory holding one definition directory per type")
	return cmd
}

func (c *cli) newSetupCommand() *cobra.Command {
	var (
		optionsFile string
		clearConfig bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a default options file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := c.logger.With("command", "setup")

			alreadyConfigured := setup.Verify(optionsFile) == nil
			if alreadyConfigured && !clearConfig {
				cmdLogger.Info("options file already present", "path", optionsFile, "hint", "use 'stemcell setup --clear' to reinitialize")
				return nil
			}

			if clearConfig {
				if err := setup.ClearConfig(optionsFile); err != nil {
					return fmt.Errorf("clear configuration: %w", err)
				}
			}

			if err := setup.InitOptions(optionsFile, setup.DefaultOptions(), clearConfig); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), optionsFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&optionsFile, "options", setup.DefaultOptionsFile(), "Options file to write")
	cmd.Flags().BoolVarP(&clearConfig, "clear", "C", false, "Remove an existing options file before writing")
	return cmd
}

func kindList() string {
	kinds := stemcell.Kinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}
