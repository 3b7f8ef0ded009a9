package main

import (
	"github.com/italolelis/grfn_downloader/internal/cogeo"
	"github.com/italolelis/grfn_downloader/internal/logctx"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newCogsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cogs <intdir> <outdir>",
		Short: "Convert processed interferograms to cloud-optimized GeoTIFFs",
		Long: `
The "cogs" command runs "rio cogeo" on the unwrapped phase of every
S1*v1.2.1-standard product found in intdir and writes one
<primary>-<secondary>-unw.geo.tif per product to outdir.
`,
		Args:              cobra.ExactArgs(2),
		DisableAutoGenTag: true,
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()

			res, err := cogeo.NewConverter(afero.NewOsFs(), cogeo.ExecRunner{}).ConvertAll(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			logctx.LoggerFromContext(ctx).InfoContext(ctx, "cloud-optimized geotiffs ready",
				"output", args[1],
				"total", res.Total,
				"converted", res.Converted,
				"failed", res.Failed,
			)

			return nil
		},
	}
}
