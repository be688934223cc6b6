package operations

import (
	"context"

	"github.com/alderdb/alder"
	"github.com/cheynewallace/tabby"
	"github.com/urfave/cli"
)

// Capabilities reports the deployment's server release and the
// strategies fixed for it at connect time.
func Capabilities() cli.Command {
	return cli.Command{
		Name:   "capabilities",
		Usage:  "report the server release and the strategies selected for it",
		Flags:  serviceConfigFlags(),
		Before: setPlainLogger,
		Action: func(c *cli.Context) error {
			return withEnvironment(c, func(ctx context.Context, env alder.Environment) error {
				caps := env.Capabilities()

				t := tabby.New()
				t.AddLine("server", caps.Server.String())
				t.AddLine("tier", caps.Tier.String())
				t.AddLine("legacy count fallback", caps.LegacyCountFallback())
				t.AddLine("modify envelope", caps.ModifyEnvelope())
				t.AddLine("legacy collection listing", caps.LegacyCollectionNames())
				t.Print()

				return nil
			})
		},
	}
}
