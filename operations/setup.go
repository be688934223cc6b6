package operations

import (
	"context"

	"github.com/alderdb/alder"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// loadSettings builds settings from the configuration file named on
// the command line, if any, with individual flags overriding the
// file's values.
func loadSettings(c *cli.Context) (*alder.Settings, error) {
	settings := &alder.Settings{}
	if path := c.String(confFlagName); path != "" {
		var err error
		settings, err = alder.NewSettings(path)
		if err != nil {
			return nil, errors.Wrap(err, "loading settings")
		}
	}
	if url := c.String(urlFlagName); url != "" {
		settings.Database.URL = url
	}
	if name := c.String(dbNameFlagName); name != "" {
		settings.Database.DB = name
	}
	return settings, nil
}

// withEnvironment connects an environment for the duration of one
// command.
func withEnvironment(c *cli.Context, op func(ctx context.Context, env alder.Environment) error) error {
	settings, err := loadSettings(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, err := alder.NewEnvironment(ctx, settings)
	if err != nil {
		return errors.Wrapf(err, "connecting to '%s'", settings.Database.URL)
	}
	defer func() {
		grip.Error(errors.Wrap(env.Close(ctx), "closing environment"))
	}()

	return op(ctx, env)
}
