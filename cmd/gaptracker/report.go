package main

import (
	"github.com/spf13/cobra"

	"github.com/podaac/gaptracker/internal/config"
	"github.com/podaac/gaptracker/internal/handler"
	"github.com/podaac/gaptracker/internal/report"
)

var (
	reportShortName   string
	reportVersion     string
	reportCollections []string
	reportCSV         bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate and fetch gap CSV reports",
}

var reportGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write gap CSV reports to the report bucket",
	Long: `Generates one CSV per collection, filtered by the collection's
stored tolerance. With no --collection flags every registered collection
is reported. One collection failing does not stop the rest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(rootCtx,
			config.EnvRDSSecret, config.EnvRDSProxyHost,
			config.EnvToleranceTable, config.EnvGapReportBucket)
		if err != nil {
			return err
		}
		defer d.close()

		store, err := d.gapStore(rootCtx)
		if err != nil {
			return err
		}
		reporter := report.NewReporter(store, d.tolerances(), d.reportObjects(), d.log)

		results, err := reporter.Run(rootCtx, reportCollections)
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range results {
			if r.Error != "" {
				failed++
				cmd.Printf("%s: FAILED: %s\n", r.CollectionID, r.Error)
				continue
			}
			cmd.Printf("%s: %d gaps -> %s\n", r.CollectionID, r.Gaps, r.Key)
		}
		if failed > 0 {
			return errStatus(500)
		}
		return nil
	},
}

var reportFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a collection's gap report",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(rootCtx, config.EnvGapReportBucket)
		if err != nil {
			return err
		}
		defer d.close()

		fetcher := report.NewFetcher(d.reportObjects())
		params := map[string]string{
			"short_name": reportShortName,
			"version":    reportVersion,
		}
		if reportCSV {
			params["output"] = "csv"
		}

		resp := handler.NewReport(fetcher, d.log).Handle(rootCtx, handler.Request{
			HTTPMethod:            "GET",
			QueryStringParameters: params,
		})
		cmd.Println(resp.Body)
		if resp.StatusCode >= 400 {
			return errStatus(resp.StatusCode)
		}
		return nil
	},
}

func init() {
	reportGenerateCmd.Flags().StringArrayVar(&reportCollections, "collection", nil,
		"collection id to report (repeatable; defaults to all)")

	reportFetchCmd.Flags().StringVar(&reportShortName, "short-name", "", "collection short name (required)")
	reportFetchCmd.Flags().StringVar(&reportVersion, "version", "", "collection version (required)")
	reportFetchCmd.Flags().BoolVar(&reportCSV, "csv", false, "request the CSV attachment form")
	_ = reportFetchCmd.MarkFlagRequired("short-name")
	_ = reportFetchCmd.MarkFlagRequired("version")

	reportCmd.AddCommand(reportGenerateCmd, reportFetchCmd)
	rootCmd.AddCommand(reportCmd)
}
