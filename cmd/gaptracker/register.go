package main

import (
	"github.com/spf13/cobra"

	"github.com/podaac/gaptracker/internal/config"
	"github.com/podaac/gaptracker/internal/registry"
)

var (
	registerShortName string
	registerVersion   string
	registerTolerance int64
	registerForce     bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a collection for gap tracking",
	Long: `Provisions the collection's gap partitions seeded with one
full-extent gap, stores its reporting tolerance, backfills existing
granules from the catalog, and subscribes the collection to the granule
event bus. Re-registering an existing collection is a no-op unless
--force reruns the backfill.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(rootCtx,
			config.EnvRDSSecret, config.EnvRDSProxyHost, config.EnvCMREnv,
			config.EnvToleranceTable, config.EnvQueueURL,
			config.EnvSubscriptionARNIngest, config.EnvSubscriptionARNDeletion)
		if err != nil {
			return err
		}
		defer d.close()

		registrar, err := d.registrar(rootCtx)
		if err != nil {
			return err
		}
		req := registry.Request{
			ShortName: registerShortName,
			Version:   registerVersion,
			Force:     registerForce,
		}
		if cmd.Flags().Changed("tolerance") {
			req.Tolerance = &registerTolerance
		}

		result, err := registrar.Register(rootCtx, req)
		if err != nil {
			return err
		}
		switch {
		case result.Created:
			cmd.Printf("Collection %s configured, %d granules backfilled.\n",
				result.CollectionID, result.Stats.Sent)
		case result.Backfilled:
			cmd.Printf("Collection %s backfill rerun, %d granules sent.\n",
				result.CollectionID, result.Stats.Sent)
		default:
			cmd.Printf("Collection %s already configured.\n", result.CollectionID)
		}
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerShortName, "short-name", "", "collection short name (required)")
	registerCmd.Flags().StringVar(&registerVersion, "version", "", "collection version (required)")
	registerCmd.Flags().Int64Var(&registerTolerance, "tolerance", 0, "minimum reported gap in seconds")
	registerCmd.Flags().BoolVar(&registerForce, "force", false, "rerun the backfill for an existing collection")
	_ = registerCmd.MarkFlagRequired("short-name")
	_ = registerCmd.MarkFlagRequired("version")
	rootCmd.AddCommand(registerCmd)
}
