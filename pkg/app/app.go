// Package app builds cobra commands from option structs: flags grouped in
// named sets, an optional config file, environment overrides and the
// Complete/Validate/Run sequence.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"

	"github.com/autopeer-io/groundlink/pkg/log"
)

// RunFunc is the body of an App, called after the options are validated.
type RunFunc func() error

// Option configures an App.
type Option func(*App)

type App struct {
	name        string
	shortDesc   string
	description string

	options  NamedFlagSetOptions
	runFunc  RunFunc
	noConfig bool
	watch    bool
	args     cobra.PositionalArgs
	commands []*cobra.Command

	viper *viper.Viper
	cmd   *cobra.Command
}

// WithOptions binds opts to the command flags and the config file.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithNoConfig drops the --config flag.
func WithNoConfig() Option {
	return func(a *App) { a.noConfig = true }
}

// WithWatchConfig logs changes of the config file while the command runs.
func WithWatchConfig() Option {
	return func(a *App) { a.watch = true }
}

func WithValidArgs(args cobra.PositionalArgs) Option {
	return func(a *App) { a.args = args }
}

// WithDefaultValidArgs rejects every positional argument.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithSubCommands attaches ready-made cobra commands.
func WithSubCommands(cmds ...*cobra.Command) Option {
	return func(a *App) { a.commands = append(a.commands, cmds...) }
}

func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		viper:     viper.New(),
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the root cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command and exits the process on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true
	cmd.AddCommand(a.commands...)

	if a.runFunc != nil {
		cmd.RunE = a.runCommand
	}

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
	}
	globalflag.AddGlobalFlags(namedFlagSets.FlagSet("global"), cmd.Name())

	var cfgFile *string
	if !a.noConfig {
		cfgFile = addConfigFlag(a.viper, a.name, namedFlagSets.FlagSet("global"))
	}
	for _, f := range namedFlagSets.FlagSets {
		cmd.Flags().AddFlagSet(f)
	}

	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if cfgFile == nil {
			return nil
		}
		return loadConfig(a.viper, *cfgFile, cmd)
	}

	setUsageAndHelp(cmd, namedFlagSets)
	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	if a.options != nil {
		if !a.noConfig {
			if err := a.viper.Unmarshal(a.options); err != nil {
				return fmt.Errorf("failed to apply configuration: %w", err)
			}
		}
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "invalid options: %v\n", err)
			return err
		}
	}

	if a.watch {
		watchConfig(a.viper)
	}

	if err := a.runFunc(); err != nil {
		log.Error(err, "Command failed", "command", a.name)
		return err
	}
	return nil
}

// setUsageAndHelp prints the named flag sections for the root command only.
func setUsageAndHelp(cmd *cobra.Command, fss cliflag.NamedFlagSets) {
	defaultUsage, defaultHelp := cmd.UsageFunc(), cmd.HelpFunc()
	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())

	cmd.SetUsageFunc(func(c *cobra.Command) error {
		if c != cmd {
			return defaultUsage(c)
		}
		fmt.Fprintf(c.OutOrStderr(), "Usage:\n  %s\n", c.UseLine())
		cliflag.PrintSections(c.OutOrStderr(), fss, cols)
		return nil
	})
	cmd.SetHelpFunc(func(c *cobra.Command, args []string) {
		if c != cmd {
			defaultHelp(c, args)
			return
		}
		fmt.Fprintf(c.OutOrStdout(), "%s\n\nUsage:\n  %s\n", c.Long, c.UseLine())
		if c.HasAvailableSubCommands() {
			fmt.Fprintln(c.OutOrStdout(), "\nAvailable Commands:")
			for _, sub := range c.Commands() {
				if sub.IsAvailableCommand() {
					fmt.Fprintf(c.OutOrStdout(), "  %-12s %s\n", sub.Name(), sub.Short)
				}
			}
		}
		cliflag.PrintSections(c.OutOrStdout(), fss, cols)
	})
}
