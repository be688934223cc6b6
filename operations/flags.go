// Package operations holds the command implementations for the alder
// command line tool.
package operations

import (
	"strings"

	"github.com/urfave/cli"
)

const (
	confFlagName       = "conf"
	urlFlagName        = "url"
	dbNameFlagName     = "db"
	collectionFlagName = "collection"
	queryFlagName      = "query"
	skipFlagName       = "skip"
	limitFlagName      = "limit"
	systemFlagName     = "system"
)

func joinFlagNames(ids ...string) string { return strings.Join(ids, ", ") }

func serviceConfigFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.StringFlag{
			Name:  joinFlagNames(confFlagName, "c", "config"),
			Usage: "path to a settings file",
		},
		cli.StringFlag{
			Name:  urlFlagName,
			Usage: "connection string for the deployment",
		},
		cli.StringFlag{
			Name:  dbNameFlagName,
			Usage: "name of the database to operate on",
		},
	)
}

func collectionFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  joinFlagNames(collectionFlagName, "C"),
		Usage: "name of the collection to operate on",
	})
}
