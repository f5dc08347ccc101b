// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   defaultConfigPath,
	}
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
		},
	}
}

func exportFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format: text, markdown, or csv",
			Value:   "text",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write the rendering to a file instead of stdout",
		},
	}
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	flags := []cli.Flag{configFlag()}
	for _, g := range groups {
		flags = append(flags, g...)
	}
	return flags
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and storage",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create the config file if missing, then initialize the database and run migrations",
				Flags:  withFlags(),
				Action: r.SetupDatabase,
			},
		},
	}
}

func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize access to music services",
		Commands: []*cli.Command{
			{
				Name:   "spotify",
				Usage:  "Authenticate with Spotify using OAuth2 and save the token",
				Flags:  withFlags(),
				Action: r.SpotifyAuth,
			},
		},
	}
}

// playlistCommand manages rotated playlists and their rules
func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlist",
		Aliases: []string{"pl"},
		Usage:   "Manage rotated playlists",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a playlist for rotation",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "key"},
				},
				Flags: withFlags([]cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Display name (defaults to the key)"},
					&cli.StringFlag{Name: "vibe", Usage: "Free-text description used to steer suggestions"},
					&cli.StringFlag{Name: "external", Usage: "Spotify playlist ID", Required: true},
					&cli.StringFlag{Name: "market", Usage: "Home market (ISO 3166-1 alpha-2)"},
					&cli.StringFlag{Name: "schedule", Usage: "RRULE for scheduled refreshes, e.g. FREQ=WEEKLY;BYDAY=SU"},
					&cli.BoolFlag{Name: "auto-commit", Usage: "Commit scheduled refreshes without review"},
					&cli.StringFlag{Name: "rules", Usage: "Rule document to attach (JSON or TOML)"},
				}),
				Action: r.PlaylistAdd,
			},
			{
				Name:   "list",
				Usage:  "List registered playlists",
				Flags:  withFlags(outputFlags()),
				Action: r.PlaylistList,
			},
			{
				Name:  "show",
				Usage: "Show a playlist with its active blocks",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "key"},
				},
				Flags:  withFlags(outputFlags()),
				Action: r.PlaylistShow,
			},
			{
				Name:  "rules",
				Usage: "Show or replace a playlist's rules",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "key"},
				},
				Flags: withFlags(outputFlags(), []cli.Flag{
					&cli.StringFlag{Name: "set", Usage: "Rule document to store (JSON or TOML)"},
				}),
				Action: r.PlaylistRules,
			},
			{
				Name:  "bootstrap",
				Usage: "Import the current Spotify playlist as the initial blocks",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "key"},
				},
				Flags:  withFlags(),
				Action: r.PlaylistBootstrap,
			},
			{
				Name:   "remote",
				Usage:  "List your Spotify playlists to find external IDs",
				Flags:  withFlags(outputFlags()),
				Action: r.PlaylistRemote,
			},
		},
	}
}

// refreshCommand creates rotation runs
func refreshCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Rotate the oldest block of a playlist",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Create a preview and, with --commit, approve and apply it",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "key"},
				},
				Flags: withFlags(outputFlags(), []cli.Flag{
					&cli.BoolFlag{Name: "commit", Usage: "Approve every change and commit"},
				}),
				Action: r.RefreshRun,
			},
			{
				Name:  "preview",
				Usage: "Create a preview run for review",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "key"},
				},
				Flags:  withFlags(outputFlags()),
				Action: r.RefreshPreview,
			},
		},
	}
}

// runCommand reviews and applies previews
func runCommand(r *Runner) *cli.Command {
	runArg := func() []cli.Argument {
		return []cli.Argument{&cli.StringArg{Name: "id"}}
	}

	return &cli.Command{
		Name:  "run",
		Usage: "Review, approve, and commit runs",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show a run summary",
				Arguments: runArg(),
				Flags:     withFlags(outputFlags(), exportFlags()),
				Action:    r.RunShow,
			},
			{
				Name:      "changes",
				Usage:     "List the changes of a run",
				Arguments: runArg(),
				Flags:     withFlags(outputFlags(), exportFlags()),
				Action:    r.RunChanges,
			},
			{
				Name:  "approve",
				Usage: "Approve or reject one change",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
					&cli.StringArg{Name: "change"},
				},
				Flags: withFlags([]cli.Flag{
					&cli.BoolFlag{Name: "reject", Usage: "Reject the change instead"},
				}),
				Action: r.RunApprove,
			},
			{
				Name:      "approve-all",
				Usage:     "Approve every change of a run",
				Arguments: runArg(),
				Flags:     withFlags(),
				Action:    r.RunApproveAll,
			},
			{
				Name:      "commit",
				Usage:     "Apply an approved run to Spotify",
				Arguments: runArg(),
				Flags:     withFlags(outputFlags()),
				Action:    r.RunCommit,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a preview",
				Arguments: runArg(),
				Flags:     withFlags(),
				Action:    r.RunCancel,
			},
			{
				Name:  "list",
				Usage: "List recent runs of a playlist",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "key"},
				},
				Flags: withFlags(outputFlags(), []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of runs", Value: 20},
				}),
				Action: r.RunList,
			},
			{
				Name:      "review",
				Usage:     "Review runs in the interactive terminal UI",
				Arguments: runArg(),
				Flags:     withFlags(),
				Action:    r.TUI,
			},
		},
	}
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the JSON API and, optionally, scheduled refreshes",
		Flags: withFlags([]cli.Flag{
			&cli.BoolFlag{Name: "schedule", Usage: "Run playlist schedules"},
			&cli.DurationFlag{Name: "tick", Usage: "Schedule polling interval", Value: 0},
			&cli.StringFlag{Name: "addr", Usage: "Listen address (defaults to server.host:server.port)"},
		}),
		Action: r.Serve,
	}
}
