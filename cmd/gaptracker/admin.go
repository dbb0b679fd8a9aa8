package main

import (
	"github.com/spf13/cobra"

	"github.com/podaac/gaptracker/internal/cmr"
	"github.com/podaac/gaptracker/internal/config"
	"github.com/podaac/gaptracker/internal/interval"
)

var (
	adminShortName string
	adminVersion   string
	adminStart     string
	adminEnd       string
	adminGapIDs    []int64
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manual gap maintenance",
	Long: `Direct edits to a collection's gap set, for correcting upstream
anomalies the event stream cannot fix. Inserted gaps are checked against
the overlap exclusion constraint like any other.`,
}

var adminAddGapCmd = &cobra.Command{
	Use:   "add-gap",
	Short: "Insert a gap directly",
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
		start, err := cmr.ParseTime(adminStart)
		if err != nil {
			return err
		}
		end, err := cmr.ParseTime(adminEnd)
		if err != nil {
			return err
		}

		collectionID := interval.CollectionID(adminShortName, adminVersion)
		if err := store.InsertGap(rootCtx, collectionID, start, end); err != nil {
			return err
		}
		cmd.Printf("Gap [%s, %s) added to %s.\n", adminStart, adminEnd, collectionID)
		return nil
	},
}

var adminDeleteGapsCmd = &cobra.Command{
	Use:   "delete-gaps",
	Short: "Delete gaps by id",
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
		collectionID := interval.CollectionID(adminShortName, adminVersion)
		if err := store.DeleteGaps(rootCtx, collectionID, adminGapIDs); err != nil {
			return err
		}
		cmd.Printf("%d gaps deleted from %s.\n", len(adminGapIDs), collectionID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{adminAddGapCmd, adminDeleteGapsCmd} {
		c.Flags().StringVar(&adminShortName, "short-name", "", "collection short name (required)")
		c.Flags().StringVar(&adminVersion, "version", "", "collection version (required)")
		_ = c.MarkFlagRequired("short-name")
		_ = c.MarkFlagRequired("version")
	}
	adminAddGapCmd.Flags().StringVar(&adminStart, "start", "", "gap start timestamp (required)")
	adminAddGapCmd.Flags().StringVar(&adminEnd, "end", "", "gap end timestamp (required)")
	_ = adminAddGapCmd.MarkFlagRequired("start")
	_ = adminAddGapCmd.MarkFlagRequired("end")
	adminDeleteGapsCmd.Flags().Int64SliceVar(&adminGapIDs, "id", nil, "gap id to delete (repeatable)")
	_ = adminDeleteGapsCmd.MarkFlagRequired("id")

	adminCmd.AddCommand(adminAddGapCmd, adminDeleteGapsCmd)
	rootCmd.AddCommand(adminCmd)
}
