package main

import (
	"github.com/spf13/cobra"

	"github.com/podaac/gaptracker/internal/config"
	"github.com/podaac/gaptracker/internal/database"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Apply the database schema",
	Long: `Creates the collections, gaps and reasons tables, the partition
trigger, and supporting functions. Safe to rerun; existing objects are
left in place.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(rootCtx, config.EnvRDSSecret, config.EnvRDSProxyHost)
		if err != nil {
			return err
		}
		defer d.close()

		pool, err := d.connect(rootCtx)
		if err != nil {
			return err
		}
		if err := database.ApplySchema(rootCtx, pool); err != nil {
			return err
		}

		// Recreate any partition a registered collection is missing, so the
		// command also repairs a partially restored database.
		store, err := d.gapStore(rootCtx)
		if err != nil {
			return err
		}
		ids, err := store.Collections(rootCtx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := store.EnsurePartitions(rootCtx, id); err != nil {
				return err
			}
		}
		cmd.Printf("Schema applied, %d collection partitions verified.\n", len(ids))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
