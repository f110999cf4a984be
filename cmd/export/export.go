// Package export provides the export command.
package export

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/philipwilson/trees/internal/app"
	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/export"
	"github.com/philipwilson/trees/internal/publish"
)

// Command creates the export command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		opts      export.Options
		since     string
		until     string
		group     string
		outDir    string
		doPublish bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export records as JSON, CSV or GPX",
		Example: `  treetrack export --format csv --out ./exports
  treetrack export --format json --photos --since "last monday" --out -
  treetrack export --format gpx --species apple --publish`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			var err error
			if opts.Filter.Since, err = export.ParseTime(since, now); err != nil {
				return err
			}
			if opts.Filter.Until, err = export.ParseTime(until, now); err != nil {
				return err
			}
			if group != "" {
				opts.Filter.GroupID = &group
			}

			return app.WithCompanion(cmd.Context(), settings, func(c *app.Companion) error {
				exporter := export.New(c.Store, c.Photos, c.Logger.Module("main"))

				if outDir == "-" {
					if doPublish {
						return fmt.Errorf("--publish needs a file; use --out DIR")
					}
					_, err := exporter.Write(cmd.Context(), cmd.OutOrStdout(), opts)
					return err
				}

				result, err := exporter.WriteFile(cmd.Context(), outDir, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%d record(s) written to %s (%d bytes)\n",
					result.Records, result.Path, result.Bytes)

				if !doPublish {
					return nil
				}
				return publishFile(cmd, settings, c, result.Path)
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Format, "format", "f", export.FormatJSON, "Output format: json, csv or gpx")
	f.BoolVar(&opts.IncludePhotos, "photos", false, "Embed photos as base64 (json only)")
	f.StringVar(&opts.Filter.Species, "species", "", "Only records of this species")
	f.StringVar(&group, "group", "", "Only records in this group id")
	f.BoolVar(&opts.Filter.Ungrouped, "ungrouped", false, "Only records without a group")
	f.StringVar(&since, "since", "", `Captured at or after: RFC3339, YYYY-MM-DD or words like "yesterday"`)
	f.StringVar(&until, "until", "", "Captured before, same forms as --since")
	f.StringVarP(&outDir, "out", "o", ".", `Output directory, or "-" for stdout`)
	f.BoolVar(&doPublish, "publish", false, "Upload the export to every enabled publish target")

	return cmd
}

func publishFile(cmd *cobra.Command, settings *conf.Settings, c *app.Companion, path string) error {
	publisher, err := publish.NewFromSettings(settings, c.Logger.Module("main"))
	if err != nil {
		return err
	}
	if len(publisher.Targets()) == 0 {
		return fmt.Errorf("no publish targets enabled")
	}
	outcomes, err := publisher.Publish(cmd.Context(), path)
	for _, o := range outcomes {
		status := "ok"
		if o.Error != "" {
			status = o.Error
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", o.Target, status)
	}
	return err
}
