// Package config loads the process-wide environment configuration.
//
// Every entry point validates the subset of variables it needs via Load;
// nothing in this package talks to the network.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment variable names recognized by the service.
const (
	EnvRDSSecret                = "RDS_SECRET"
	EnvRDSProxyHost             = "RDS_PROXY_HOST"
	EnvCMREnv                   = "CMR_ENV"
	EnvAWSRegion                = "AWS_REGION"
	EnvToleranceTable           = "TOLERANCE_TABLE_NAME"
	EnvSubscriptionARNIngest    = "SUBSCRIPTION_ARN_INGEST"
	EnvSubscriptionARNDeletion  = "SUBSCRIPTION_ARN_DELETION"
	EnvExecutionARNPrefixIngest = "EXECUTION_ARN_PREFIX_INGEST"
	EnvGapReportBucket          = "GAP_REPORT_BUCKET"
	EnvGapResponseBucket        = "GAP_RESPONSE_BUCKET"
	EnvQueueURL                 = "QUEUE_URL"
	EnvDeletionQueueARN         = "DELETION_QUEUE_ARN"
	EnvStatementTimeout         = "STATEMENT_TIMEOUT"
)

var cmrEnvironments = []string{"SIT", "UAT", "PROD"}

// Config holds the environment configuration shared across commands.
type Config struct {
	RDSSecretID              string
	RDSProxyHost             string
	CMREnv                   string
	AWSRegion                string
	ToleranceTable           string
	SubscriptionARNIngest    string
	SubscriptionARNDeletion  string
	ExecutionARNPrefixIngest string
	GapReportBucket          string
	GapResponseBucket        string
	QueueURL                 string
	DeletionQueueARN         string

	// StatementTimeout is applied as the Postgres statement_timeout for
	// every pooled connection. Zero means the server default.
	StatementTimeout time.Duration
}

// Load reads the configuration from the environment and validates that the
// required variables are present. Callers pass the variables their entry
// point cannot run without.
func Load(required ...string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	for _, name := range required {
		if v.GetString(name) == "" {
			return nil, fmt.Errorf("required variable %s not in environment", name)
		}
	}

	cfg := &Config{
		RDSSecretID:              v.GetString(EnvRDSSecret),
		RDSProxyHost:             v.GetString(EnvRDSProxyHost),
		CMREnv:                   v.GetString(EnvCMREnv),
		AWSRegion:                v.GetString(EnvAWSRegion),
		ToleranceTable:           v.GetString(EnvToleranceTable),
		SubscriptionARNIngest:    v.GetString(EnvSubscriptionARNIngest),
		SubscriptionARNDeletion:  v.GetString(EnvSubscriptionARNDeletion),
		ExecutionARNPrefixIngest: v.GetString(EnvExecutionARNPrefixIngest),
		GapReportBucket:          v.GetString(EnvGapReportBucket),
		GapResponseBucket:        v.GetString(EnvGapResponseBucket),
		QueueURL:                 v.GetString(EnvQueueURL),
		DeletionQueueARN:         v.GetString(EnvDeletionQueueARN),
		StatementTimeout:         v.GetDuration(EnvStatementTimeout),
	}

	if err := cfg.validate(required); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(required []string) error {
	for _, name := range required {
		if name != EnvCMREnv {
			continue
		}
		if !validCMREnv(c.CMREnv) {
			return fmt.Errorf("CMR environment not recognized: %q not in %v", c.CMREnv, cmrEnvironments)
		}
	}
	return nil
}

func validCMREnv(env string) bool {
	for _, e := range cmrEnvironments {
		if env == e {
			return true
		}
	}
	return false
}

// CMRBaseURL returns the catalog base URL for the configured environment.
// Production uses the bare host; SIT and UAT are environment-prefixed.
func (c *Config) CMRBaseURL() string {
	env := strings.ToLower(c.CMREnv)
	if env == "prod" {
		return "https://cmr.earthdata.nasa.gov"
	}
	return fmt.Sprintf("https://cmr.%s.earthdata.nasa.gov", env)
}
