// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
	}
}

func verboseFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Enable debug logging",
	}
}

// urlCommand downloads the URLs given as arguments.
func urlCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "url",
		Usage:     "Download the media behind one or more URLs",
		ArgsUsage: "URL [URL...]",
		Flags:     []cli.Flag{configFlag(), verboseFlag()},
		Action:    r.URL,
	}
}

// fileCommand downloads every URL found in a text file.
func fileCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "file",
		Usage: "Download every recognized URL in a text file",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "path"},
		},
		Flags:  []cli.Flag{configFlag(), verboseFlag()},
		Action: r.File,
	}
}

// searchCommand queries one service.
func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search a streaming service",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "query"},
		},
		Flags: []cli.Flag{
			configFlag(),
			verboseFlag(),
			&cli.StringFlag{
				Name:    "source",
				Aliases: []string{"s"},
				Usage:   "Service to search (qobuz, deezer, tidal, soundcloud)",
				Value:   "qobuz",
			},
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Media type to search for (track, album, playlist, artist)",
				Value:   "album",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of results",
				Value: 20,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Search,
	}
}

// configCommand manages the configuration file.
func configCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the configuration file",
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "Write a default configuration file",
				Flags:  []cli.Flag{configFlag()},
				Action: r.ConfigCreate,
			},
			{
				Name:   "show",
				Usage:  "Print the configuration file",
				Flags:  []cli.Flag{configFlag()},
				Action: r.ConfigShow,
			},
		},
	}
}

// failedCommand inspects the failure ledger.
func failedCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "failed",
		Usage:  "List items that failed to download",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Failed,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		urlCommand, fileCommand, searchCommand, configCommand, failedCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}
