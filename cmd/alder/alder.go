package main

import (
	"os"

	"github.com/alderdb/alder/operations"
	"github.com/mongodb/grip"
	"github.com/urfave/cli"
)

func main() {
	grip.EmergencyFatal(buildApp().Run(os.Args))
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "alder"
	app.Usage = "diagnostics for deployments served by the alder query layer"
	app.Version = "0.1.0"

	app.Commands = []cli.Command{
		operations.Capabilities(),
		operations.Count(),
		operations.Collections(),
	}

	return app
}
