package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

var version = "0.1.0"

func main() {
	runner := NewRunner(RunnerOpts{})
	if err := runner.App().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "scrobbled: %v\n", err)
		os.Exit(1)
	}
}

// App builds the command tree. Running with no subcommand opens the TUI.
func (r *Runner) App() *cli.Command {
	return &cli.Command{
		Name:    "scrobbled",
		Usage:   "Scrobble what your local player is playing to ListenBrainz and Last.fm",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (default: $XDG_CONFIG_HOME/scrobbled/config.toml)",
				Sources: cli.EnvVars("SCROBBLED_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log.level (debug, info, warn, error)",
			},
		},
		Action:   r.TUI,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		tuiCommand, runCommand, onceCommand, statusCommand, doctorCommand, tokenCommand, authCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Interactive status screen (default)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "start", Usage: "Start listening immediately"},
		},
		Action: r.TUI,
	}
}

func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Poll and scrobble in the foreground until interrupted",
		Action: r.Run,
	}
}

func onceCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "once",
		Usage:  "Run a single poll and print what happened",
		Action: r.Once,
	}
}

func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show stored credentials and the last submitted listen",
		Action: r.Status,
	}
}

func doctorCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "doctor",
		Usage:  "Check configuration, player probe and credentials",
		Action: r.Doctor,
	}
}

func tokenCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Manage the ListenBrainz user token",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store a token (read from stdin when no argument is given)",
				ArgsUsage: "[token]",
				Action:    r.TokenSet,
			},
			{
				Name:   "clear",
				Usage:  "Remove the stored token",
				Action: r.TokenClear,
			},
		},
	}
}

func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize scrobbling services",
		Commands: []*cli.Command{
			{
				Name:   "lastfm",
				Usage:  "Log in to Last.fm in the browser and store the session key",
				Action: r.AuthLastFM,
			},
		},
	}
}
