package main

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podaac/gaptracker/internal/backfill"
	"github.com/podaac/gaptracker/internal/cmr"
	"github.com/podaac/gaptracker/internal/config"
	"github.com/podaac/gaptracker/internal/database"
	"github.com/podaac/gaptracker/internal/interval"
	"github.com/podaac/gaptracker/internal/registry"
	"github.com/podaac/gaptracker/internal/report"
	"github.com/podaac/gaptracker/internal/subscription"
	"github.com/podaac/gaptracker/internal/tolerance"
)

// deps lazily wires the shared service clients for one command invocation.
type deps struct {
	cfg *config.Config
	aws awsClients
	log *slog.Logger

	pool *pgxpool.Pool
}

type awsClients struct {
	secrets  *secretsmanager.Client
	dynamodb *dynamodb.Client
	s3       *s3.Client
	sns      *sns.Client
	sqs      *sqs.Client
}

// newDeps loads configuration, requiring the given variables, and builds
// the AWS service clients.
func newDeps(ctx context.Context, required ...string) (*deps, error) {
	cfg, err := config.Load(required...)
	if err != nil {
		return nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS configuration: %w", err)
	}
	return &deps{
		cfg: cfg,
		aws: awsClients{
			secrets:  secretsmanager.NewFromConfig(awsCfg),
			dynamodb: dynamodb.NewFromConfig(awsCfg),
			s3:       s3.NewFromConfig(awsCfg),
			sns:      sns.NewFromConfig(awsCfg),
			sqs:      sqs.NewFromConfig(awsCfg),
		},
		log: slog.Default(),
	}, nil
}

// connect opens the database pool using credentials from the secret store.
func (d *deps) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if d.pool != nil {
		return d.pool, nil
	}
	creds, err := database.FetchCredentials(ctx, d.aws.secrets, d.cfg.RDSSecretID)
	if err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, d.cfg, creds, d.log)
	if err != nil {
		return nil, err
	}
	d.pool = pool
	return pool, nil
}

func (d *deps) close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

func (d *deps) gapStore(ctx context.Context) (*interval.Store, error) {
	pool, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	return interval.NewStore(pool, d.log), nil
}

func (d *deps) catalog() *cmr.Client {
	return cmr.New(d.cfg.CMRBaseURL(), d.log)
}

func (d *deps) tolerances() *tolerance.Store {
	return tolerance.NewStore(d.aws.dynamodb, d.cfg.ToleranceTable)
}

func (d *deps) backfiller() *backfill.Producer {
	publisher := backfill.NewSQSPublisher(d.aws.sqs, d.cfg.QueueURL)
	return backfill.New(d.catalog(), publisher, d.log)
}

func (d *deps) subscriber() *subscription.Manager {
	prefixes := subscription.ParseExecutionPrefixes(d.cfg.ExecutionARNPrefixIngest)
	return subscription.NewManager(d.aws.sns,
		d.cfg.SubscriptionARNIngest, d.cfg.SubscriptionARNDeletion, prefixes, d.log)
}

func (d *deps) registrar(ctx context.Context) (*registry.Registrar, error) {
	store, err := d.gapStore(ctx)
	if err != nil {
		return nil, err
	}
	return registry.New(store, d.catalog(), d.backfiller(), d.tolerances(), d.subscriber(), d.log), nil
}

func (d *deps) reportObjects() *report.ObjectStore {
	return report.NewObjectStore(d.aws.s3, s3.NewPresignClient(d.aws.s3), d.cfg.GapReportBucket)
}

func (d *deps) responseObjects() *report.ObjectStore {
	return report.NewObjectStore(d.aws.s3, s3.NewPresignClient(d.aws.s3), d.cfg.GapResponseBucket)
}
