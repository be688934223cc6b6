package operations

import (
	"context"
	"fmt"

	"github.com/alderdb/alder"
	"github.com/alderdb/alder/db"
	"github.com/evergreen-ci/utility"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.mongodb.org/mongo-driver/bson"
)

// Count counts the documents in a collection, optionally restricted
// by a filter document given as extended JSON.
func Count() cli.Command {
	return cli.Command{
		Name:  "count",
		Usage: "count the documents in a collection",
		Flags: serviceConfigFlags(collectionFlag(
			cli.StringFlag{
				Name:  joinFlagNames(queryFlagName, "q"),
				Usage: "filter document, as extended JSON",
			},
			cli.IntFlag{
				Name:  skipFlagName,
				Usage: "number of matching documents to skip",
			},
			cli.IntFlag{
				Name:  limitFlagName,
				Usage: "cap on the count; zero answers without contacting the server",
			},
		)...),
		Before: mergeBeforeFuncs(setPlainLogger, requireStringFlag(collectionFlagName)),
		Action: func(c *cli.Context) error {
			collection := c.String(collectionFlagName)

			var filter any
			if doc := c.String(queryFlagName); doc != "" {
				parsed := bson.M{}
				if err := bson.UnmarshalExtJSON([]byte(doc), false, &parsed); err != nil {
					return errors.Wrap(err, "parsing filter document")
				}
				filter = parsed
			}

			opts := db.CountOptions{Skip: c.Int(skipFlagName)}
			if c.IsSet(limitFlagName) {
				opts.Limit = utility.ToIntPtr(c.Int(limitFlagName))
			}

			return withEnvironment(c, func(ctx context.Context, env alder.Environment) error {
				n, err := env.DB().Count(ctx, collection, filter, opts)
				if err != nil {
					return errors.Wrapf(err, "counting documents in collection '%s'", collection)
				}
				fmt.Println(n)

				return nil
			})
		},
	}
}
