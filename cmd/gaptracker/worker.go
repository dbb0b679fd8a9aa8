package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/podaac/gaptracker/internal/config"
	"github.com/podaac/gaptracker/internal/engine"
	"github.com/podaac/gaptracker/internal/worker"
)

var workerQueueURLs []string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Poll the granule event queues and maintain gap sets",
	Long: `Long-polls the configured queues and applies each batch to the
gap store: ingest events split gaps, deletion events merge them back.
Messages that fail stay on the queue for redelivery. Runs until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(rootCtx,
			config.EnvRDSSecret, config.EnvRDSProxyHost, config.EnvDeletionQueueARN)
		if err != nil {
			return err
		}
		defer d.close()

		store, err := d.gapStore(rootCtx)
		if err != nil {
			return err
		}

		urls := workerQueueURLs
		if len(urls) == 0 {
			if d.cfg.QueueURL == "" {
				return fmt.Errorf("no queue to poll; set %s or pass --queue-url", config.EnvQueueURL)
			}
			urls = []string{d.cfg.QueueURL}
		}

		eng := engine.New(store, d.cfg.DeletionQueueARN, d.log)
		return worker.New(d.aws.sqs, eng, urls, d.log).Run(rootCtx)
	},
}

func init() {
	workerCmd.Flags().StringArrayVar(&workerQueueURLs, "queue-url", nil,
		"queue URL to poll (repeatable; defaults to QUEUE_URL)")
	rootCmd.AddCommand(workerCmd)
}
