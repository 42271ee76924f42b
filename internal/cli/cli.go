// Package cli declares the pwsw command tree and parses argv into a dispatchable command.
package cli

import (
	"bytes"
	"io"

	"github.com/spf13/cobra"
)

type Command string

const (
	CommandDaemon      Command = "daemon"
	CommandStatus      Command = "status"
	CommandListWindows Command = "list-windows"
	CommandTestRule    Command = "test-rule"
	CommandReload      Command = "reload"
	CommandShutdown    Command = "shutdown"
	CommandListSinks   Command = "list-sinks"
	CommandSetSink     Command = "set-sink"
	CommandNextSink    Command = "next-sink"
	CommandPrevSink    Command = "prev-sink"
	CommandValidate    Command = "validate"
	CommandInitConfig  Command = "init-config"
	CommandDoctor      Command = "doctor"
	CommandVersion     Command = "version"
	CommandHelp        Command = "help"
)

// Parsed is the command selected by argv plus its flags and positional arguments.
type Parsed struct {
	Command    Command
	ConfigPath string
	Args       []string
	JSON       bool
	ShowHelp   bool
}

// Parse runs argv through the command tree without executing anything.
func Parse(args []string) (Parsed, error) {
	var parsed Parsed
	root := newRoot(&parsed)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	if err := root.Execute(); err != nil {
		return Parsed{}, err
	}
	if parsed.Command == "" {
		parsed.Command = CommandHelp
		parsed.ShowHelp = true
	}
	return parsed, nil
}

// HelpText renders root usage for binaryName.
func HelpText(binaryName string) string {
	var parsed Parsed
	root := newRoot(&parsed)
	root.Use = binaryName
	var buf bytes.Buffer
	root.SetOut(&buf)
	_ = root.Usage()
	return buf.String()
}

func newRoot(parsed *Parsed) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "pwsw",
		Short: "Switch the PipeWire default sink based on open Wayland windows",
		Long: `pwsw watches the compositor's toplevel windows and makes the audio output
selected by your rules the default sink. The daemon is controlled over a local socket.`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if showVersion {
				parsed.Command = CommandVersion
				return nil
			}
			parsed.Command = CommandHelp
			parsed.ShowHelp = true
			return nil
		},
	}
	root.PersistentFlags().StringVar(&parsed.ConfigPath, "config", "", "config file path (default: $XDG_CONFIG_HOME/pwsw/config.toml)")
	root.Flags().BoolVar(&showVersion, "version", false, "show version")
	root.SetHelpFunc(func(*cobra.Command, []string) {
		parsed.Command = CommandHelp
		parsed.ShowHelp = true
	})
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return err
	})

	leaf := func(command Command, short string, args cobra.PositionalArgs) *cobra.Command {
		return &cobra.Command{
			Use:   string(command),
			Short: short,
			Args:  args,
			RunE: func(_ *cobra.Command, positional []string) error {
				parsed.Command = command
				parsed.Args = positional
				return nil
			},
		}
	}

	status := leaf(CommandStatus, "Show daemon state and the current sink", cobra.NoArgs)
	status.Flags().BoolVar(&parsed.JSON, "json", false, "print the raw response")
	listWindows := leaf(CommandListWindows, "List open windows and their tracked sinks", cobra.NoArgs)
	listWindows.Flags().BoolVar(&parsed.JSON, "json", false, "print the raw response")
	testRule := leaf(CommandTestRule, "Show open windows matching a regex", cobra.ExactArgs(1))
	testRule.Use = string(CommandTestRule) + " PATTERN"
	setSink := leaf(CommandSetSink, "Make a configured sink the default", cobra.ExactArgs(1))
	setSink.Use = string(CommandSetSink) + " SINK"

	root.AddCommand(
		leaf(CommandDaemon, "Run the switching daemon in the foreground", cobra.NoArgs),
		status,
		listWindows,
		testRule,
		leaf(CommandReload, "Reload the config in the running daemon", cobra.NoArgs),
		leaf(CommandShutdown, "Stop the running daemon", cobra.NoArgs),
		leaf(CommandListSinks, "List audio sinks and which are configured", cobra.NoArgs),
		setSink,
		leaf(CommandNextSink, "Switch to the next configured sink", cobra.NoArgs),
		leaf(CommandPrevSink, "Switch to the previous configured sink", cobra.NoArgs),
		leaf(CommandValidate, "Validate the config file", cobra.NoArgs),
		leaf(CommandInitConfig, "Write a starter config from the active sinks", cobra.NoArgs),
		leaf(CommandDoctor, "Run configuration and environment checks", cobra.NoArgs),
		leaf(CommandVersion, "Print version information", cobra.NoArgs),
	)
	return root
}
