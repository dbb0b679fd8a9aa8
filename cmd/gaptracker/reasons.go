package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/podaac/gaptracker/internal/config"
	"github.com/podaac/gaptracker/internal/handler"
)

var (
	reasonShortName string
	reasonVersion   string
	reasonStart     string
	reasonEnd       string
	reasonText      string
	reasonStartDate string
	reasonEndDate   string
)

var reasonsCmd = &cobra.Command{
	Use:   "reasons",
	Short: "Annotate and list known gap reasons",
}

var reasonsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Annotate a time range with a gap reason",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(rootCtx, config.EnvRDSSecret, config.EnvRDSProxyHost)
		if err != nil {
			return err
		}
		defer d.close()

		store, err := d.gapStore(rootCtx)
		if err != nil {
			return err
		}
		body, err := json.Marshal(map[string]any{
			"reasons": []map[string]string{{
				"shortname": reasonShortName,
				"version":   reasonVersion,
				"start_ts":  reasonStart,
				"end_ts":    reasonEnd,
				"reason":    reasonText,
			}},
		})
		if err != nil {
			return err
		}

		resp := handler.NewReasons(store, d.log).Handle(rootCtx, handler.Request{
			HTTPMethod: "POST",
			Body:       string(body),
		})
		cmd.Println(resp.Body)
		if resp.StatusCode >= 400 {
			return errStatus(resp.StatusCode)
		}
		return nil
	},
}

var reasonsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a collection's gap reasons",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(rootCtx, config.EnvRDSSecret, config.EnvRDSProxyHost)
		if err != nil {
			return err
		}
		defer d.close()

		store, err := d.gapStore(rootCtx)
		if err != nil {
			return err
		}

		resp := handler.NewReasons(store, d.log).Handle(rootCtx, handler.Request{
			HTTPMethod: "GET",
			QueryStringParameters: map[string]string{
				"short_name": reasonShortName,
				"version":    reasonVersion,
				"startDate":  reasonStartDate,
				"endDate":    reasonEndDate,
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
	for _, c := range []*cobra.Command{reasonsAddCmd, reasonsListCmd} {
		c.Flags().StringVar(&reasonShortName, "short-name", "", "collection short name (required)")
		c.Flags().StringVar(&reasonVersion, "version", "", "collection version (required)")
		_ = c.MarkFlagRequired("short-name")
		_ = c.MarkFlagRequired("version")
	}
	reasonsAddCmd.Flags().StringVar(&reasonStart, "start", "", "range start timestamp (required)")
	reasonsAddCmd.Flags().StringVar(&reasonEnd, "end", "", "range end timestamp (required)")
	reasonsAddCmd.Flags().StringVar(&reasonText, "reason", "", "reason text (required)")
	_ = reasonsAddCmd.MarkFlagRequired("start")
	_ = reasonsAddCmd.MarkFlagRequired("end")
	_ = reasonsAddCmd.MarkFlagRequired("reason")
	reasonsListCmd.Flags().StringVar(&reasonStartDate, "start-date", "", "window start (YYYY-MM-DD)")
	reasonsListCmd.Flags().StringVar(&reasonEndDate, "end-date", "", "window end (YYYY-MM-DD)")

	reasonsCmd.AddCommand(reasonsAddCmd, reasonsListCmd)
	rootCmd.AddCommand(reasonsCmd)
}
