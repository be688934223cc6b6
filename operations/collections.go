package operations

import (
	"context"
	"fmt"
	"sort"

	"github.com/alderdb/alder"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Collections lists the database's collections.
func Collections() cli.Command {
	return cli.Command{
		Name:  "collections",
		Usage: "list the database's collections",
		Flags: serviceConfigFlags(cli.BoolFlag{
			Name:  systemFlagName,
			Usage: "include internal system.* namespaces",
		}),
		Before: setPlainLogger,
		Action: func(c *cli.Context) error {
			includeSystem := c.Bool(systemFlagName)

			return withEnvironment(c, func(ctx context.Context, env alder.Environment) error {
				names, err := env.DB().CollectionNames(ctx, includeSystem)
				if err != nil {
					return errors.Wrap(err, "listing collections")
				}

				sort.Strings(names)
				for _, name := range names {
					fmt.Println(name)
				}

				return nil
			})
		},
	}
}
