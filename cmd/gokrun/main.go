package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	c := &command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createUpdateCommand(c, &UpdateFlags{}),
		createLaunchCommand(c, &LaunchFlags{}),
		createEventsCommand(c, &EventsFlags{}),
		createResolveCommand(c, &ResolveFlags{}),
		createServeCommand(c, &ServeFlags{}),
		createStatusCommand(c, &StatusFlags{}),
		createHashPasswordCommand(&HashPasswordFlags{}),
		createInitCommand(&InitFlags{}),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "gokrun",
		Short: "Gardens of Karaxas launcher supervisor",
		Long: `gokrun runs the launcher's background work: update sessions through the
update helper, the game runtime host and the backend event stream.

Examples:
  gokrun update
  gokrun launch --bootstrap runtime/runtime_bootstrap_1.json
  gokrun events --token "$GOK_ACCESS_TOKEN"
  gokrun resolve
  gokrun serve --config gokrun.toml
  gokrun status --api-url http://127.0.0.1:7001`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.PayloadRoot, "payload-root", "", "override the discovered payload root")
	root.PersistentFlags().StringVar(&flags.InstallRoot, "install-root", "", "override the install root")
	return root
}

func createUpdateCommand(c *command, flags *UpdateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for and apply an update",
		Long: `Run the update helper once, printing progress as it arrives.
When the helper has staged an update that must be applied out of process,
gokrun exits shortly after so the helper can replace files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Update(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print status updates and the outcome as JSON lines")
	return cmd
}

func createLaunchCommand(c *command, flags *LaunchFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Start the game runtime host",
		Long: `Start the configured runtime host. The Godot host receives the bootstrap file;
the legacy host starts the bundled game executable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Launch(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Bootstrap, "bootstrap", "", "bootstrap file handed to the Godot runtime")
	cmd.Flags().BoolVar(&flags.Wait, "wait", false, "wait for the runtime to exit")
	cmd.Flags().DurationVar(&flags.StopAfter, "stop-after", 0, "with --wait, stop the runtime after this duration")
	return cmd
}

func createEventsCommand(c *command, flags *EventsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Connect the backend event stream and print events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Events(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.URL, "url", "", "dial this URL instead of requesting a ticket")
	cmd.Flags().StringVar(&flags.Token, "token", "", "access token for the ticket request (overrides backend.access_token)")
	return cmd
}

func createResolveCommand(c *command, flags *ResolveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the resolved layout, helper and runtime host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Resolve(cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Bootstrap, "bootstrap", "runtime_bootstrap.json", "bootstrap path used to plan the Godot launch")
	return cmd
}

func createServeCommand(c *command, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor until interrupted",
		Long: `Keep the event stream connected, run scheduled update checks (update.schedule)
and serve the local status API (server.listen) until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "status API listen address (overrides server.listen)")
	cmd.Flags().BoolVar(&flags.NoStream, "no-stream", false, "do not connect the event stream")
	return cmd
}

func createStatusCommand(c *command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running supervisor over its status API",
		Long: `Print the snapshot of a running "gokrun serve". The address defaults to
server.listen from the config; with server.tls.dir set the generated CA is trusted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.APIURL, "api-url", "", "status API base URL (defaults to server.listen)")
	cmd.Flags().StringVar(&flags.CACert, "ca-cert", "", "CA certificate used to verify an HTTPS status API")
	cmd.Flags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS verification")
	cmd.Flags().IntVar(&flags.History, "history", 0, "also print the newest N history events")
	cmd.Flags().BoolVar(&flags.Trigger, "trigger-update", false, "ask the supervisor to start an update session first")
	cmd.Flags().StringVar(&flags.Username, "username", "", "basic auth user (defaults to server.auth.username)")
	cmd.Flags().StringVar(&flags.Password, "password", "", "basic auth password")
	return cmd
}

func createInitCommand(flags *InitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Render a starter TOML config. Types: minimal, serve, godot, dev, hardened
(basic and daemon are aliases of minimal and serve).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Init(cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Type, "type", "minimal", "template type")
	cmd.Flags().StringVar(&flags.BaseURL, "base-url", "", "backend base URL written to the config")
	cmd.Flags().StringVarP(&flags.Output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing output file")
	return cmd
}

func createHashPasswordCommand(flags *HashPasswordFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for server.auth.password_hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			return HashPassword(cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Password, "password", "", "password to hash")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
