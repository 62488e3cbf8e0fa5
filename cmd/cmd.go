// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "config.toml",
			Sources: cli.EnvVars("CMDARR_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "seed",
			Usage: "Command definitions imported when the database has none",
			Value: "commands.yaml",
		},
	}
}

func formatFlag(formats string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format (" + formats + ")",
		Value:   "table",
	}
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create the config file if missing, migrate the database and import command seeds",
		Action: r.Setup,
	}
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the scheduler, executor and status server until interrupted",
		Action: r.Serve,
	}
}

func commandsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "commands",
		Aliases: []string{"cmd"},
		Usage:   "Manage command definitions",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List command definitions with their next due time",
				Flags: []cli.Flag{
					formatFlag("table, json"),
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Only list commands of this kind",
					},
				},
				Action: r.CommandsList,
			},
			{
				Name:      "import",
				Usage:     "Create or replace definitions from a YAML file",
				ArgsUsage: "<file>",
				Action:    r.CommandsImport,
			},
			{
				Name:      "enable",
				Usage:     "Enable a command",
				ArgsUsage: "<id>",
				Action:    r.CommandsEnable,
			},
			{
				Name:      "disable",
				Usage:     "Disable a command",
				ArgsUsage: "<id>",
				Action:    r.CommandsDisable,
			},
		},
	}
}

func executionsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "executions",
		Aliases: []string{"exec"},
		Usage:   "Inspect and control command executions",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List executions, newest first",
				Flags: []cli.Flag{
					formatFlag("table, csv, json"),
					&cli.StringFlag{
						Name:  "command",
						Usage: "Only list executions of this command",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only list executions with this status",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of executions to return",
						Value: 20,
					},
				},
				Action: r.ExecutionsList,
			},
			{
				Name:      "run",
				Usage:     "Run a command now and wait for it to finish",
				ArgsUsage: "<command-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Print sync progress as it happens",
						Value: true,
					},
				},
				Action: r.ExecutionsRun,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a pending or running execution",
				ArgsUsage: "<execution-id>",
				Action:    r.ExecutionsCancel,
			},
			{
				Name:   "recover",
				Usage:  "Settle executions interrupted by a crash and time out stuck ones",
				Action: r.ExecutionsRecover,
			},
		},
	}
}

// cacheCommand manages library snapshots
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage media server library snapshots",
		Commands: []*cli.Command{
			{
				Name:  "build",
				Usage: "Build library snapshots",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "target",
						Aliases: []string{"t"},
						Usage:   "Target to build (repeatable, default all configured)",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Rebuild snapshots that are still fresh",
					},
				},
				Action: r.CacheBuild,
			},
			{
				Name:   "status",
				Usage:  "Show stored snapshots",
				Flags:  []cli.Flag{formatFlag("table, json")},
				Action: r.CacheStatus,
			},
			{
				Name:  "clear",
				Usage: "Delete library snapshots",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "target",
						Aliases: []string{"t"},
						Usage:   "Target to clear (repeatable, default all stored)",
					},
				},
				Action: r.CacheClear,
			},
		},
	}
}

func cronCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cron",
		Usage: "Cron expression helpers",
		Commands: []*cli.Command{
			{
				Name:      "next",
				Usage:     "Print the next due times of a cron expression",
				ArgsUsage: "<expression>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "tz",
						Usage: "IANA timezone (default: scheduler timezone)",
					},
					&cli.IntFlag{
						Name:    "count",
						Aliases: []string{"n"},
						Usage:   "Number of due times to print",
						Value:   5,
					},
				},
				Action: r.CronNext,
			},
		},
	}
}
