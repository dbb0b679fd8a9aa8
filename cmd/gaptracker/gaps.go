package main

import (
	"github.com/spf13/cobra"

	"github.com/podaac/gaptracker/internal/config"
	"github.com/podaac/gaptracker/internal/handler"
)

var (
	gapsShortName string
	gapsVersion   string
	gapsTolerance bool
	gapsKnownGap  bool
	gapsStartDate string
	gapsEndDate   string
)

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "List a collection's coverage gaps",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(rootCtx,
			config.EnvRDSSecret, config.EnvRDSProxyHost,
			config.EnvToleranceTable, config.EnvGapResponseBucket)
		if err != nil {
			return err
		}
		defer d.close()

		store, err := d.gapStore(rootCtx)
		if err != nil {
			return err
		}
		h := handler.NewGaps(store, d.tolerances(), d.responseObjects(), d.log)

		resp := h.Handle(rootCtx, handler.Request{
			HTTPMethod: "GET",
			QueryStringParameters: map[string]string{
				"short_name": gapsShortName,
				"version":    gapsVersion,
				"tolerance":  boolParam(gapsTolerance),
				"knownGap":   boolParam(gapsKnownGap),
				"startDate":  gapsStartDate,
				"endDate":    gapsEndDate,
			},
		})
		cmd.Println(resp.Body)
		if resp.StatusCode >= 400 {
			return errStatus(resp.StatusCode)
		}
		return nil
	},
}

func init() {
	gapsCmd.Flags().StringVar(&gapsShortName, "short-name", "", "collection short name (required)")
	gapsCmd.Flags().StringVar(&gapsVersion, "version", "", "collection version (required)")
	gapsCmd.Flags().BoolVar(&gapsTolerance, "tolerance", false, "filter gaps below the stored tolerance")
	gapsCmd.Flags().BoolVar(&gapsKnownGap, "known-gap", true, "include gaps that carry a reason")
	gapsCmd.Flags().StringVar(&gapsStartDate, "start-date", "", "window start (YYYY-MM-DD)")
	gapsCmd.Flags().StringVar(&gapsEndDate, "end-date", "", "window end (YYYY-MM-DD)")
	_ = gapsCmd.MarkFlagRequired("short-name")
	_ = gapsCmd.MarkFlagRequired("version")
	rootCmd.AddCommand(gapsCmd)
}
