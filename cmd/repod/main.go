package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli"

	"github.com/blankon/irgsh-repod/internal/monitoring"
)

var (
	app     *cli.App
	version string
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// .env is optional, it only provides REPOD_CONFIG_PATH and DEV overrides
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v\n", err)
	}
	if version != "" {
		monitoring.Version = version
	}

	app = cli.NewApp()
	app.Name = "irgsh-repod"
	app.Usage = "irgsh-repod repository build orchestrator"
	app.Author = "BlankOn Developer"
	app.Email = "blankon-dev@googlegroups.com"
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to repod.yml, defaults to REPOD_CONFIG_PATH or the predefined paths",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:   "scheduler",
			Usage:  "Fire the periodic poll and purge tasks",
			Action: runScheduler,
		},
		{
			Name:   "worker",
			Usage:  "Consume poll, purge and callback tasks",
			Action: runWorker,
		},
		{
			Name:   "builder",
			Usage:  "Consume repo build tasks",
			Action: runBuilder,
		},
		{
			Name:   "poll",
			Usage:  "Run one poll cycle now",
			Action: pollOnce,
		},
		{
			Name:   "purge",
			Usage:  "Run one purge cycle now",
			Action: purgeOnce,
		},
		{
			Name:      "request-update",
			Aliases:   []string{"r"},
			Usage:     "Flag a repo for rebuilding",
			ArgsUsage: "<repo id>",
			Action:    requestUpdate,
		},
		{
			Name:      "logs",
			Aliases:   []string{"l"},
			Usage:     "Print the build log of a repo",
			ArgsUsage: "<repo id>",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "follow, f",
					Usage: "keep printing new lines",
				},
			},
			Action: showLogs,
		},
		{
			Name:  "instances",
			Usage: "List running repod processes",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "type, t",
					Usage: "scheduler, worker or builder",
				},
			},
			Action: listInstances,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}
