// Package database bootstraps the shared Postgres connection pool and owns
// the schema DDL. Credentials come from Secrets Manager; the pool is sized
// and aged to sit behind an RDS proxy with NAT idle timers in the path.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podaac/gaptracker/internal/config"
)

const (
	minConns        = 1
	maxConns        = 10
	maxConnLifetime = 2 * time.Hour
	maxConnIdleTime = 15 * time.Minute
	connectTimeout  = 5 * time.Second

	// NAT gateways in the path drop idle flows around 350s; keep probes
	// well under that.
	keepalivePeriod = 15 * time.Second

	acquireRetries = 3
)

// Credentials holds the database secret payload.
type Credentials struct {
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// SecretsAPI is the Secrets Manager surface used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// FetchCredentials retrieves and decodes the database secret.
func FetchCredentials(ctx context.Context, api SecretsAPI, secretID string) (Credentials, error) {
	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("retrieve secret %s: %w", secretID, err)
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode secret %s: %w", secretID, err)
	}
	return creds, nil
}

func dsn(host string, creds Credentials) string {
	return fmt.Sprintf(
		"host=%s dbname=%s user=%s password=%s connect_timeout=%d application_name=gaptracker",
		host, creds.Database, creds.Username, creds.Password, int(connectTimeout.Seconds()))
}

// Connect builds the process-wide pool: min 1 idle, max 10, 2h lifetime,
// 15m idle timeout, TCP keepalive tuned for NAT, optional statement
// timeout.
func Connect(ctx context.Context, cfg *config.Config, creds Credentials, log *slog.Logger) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(dsn(cfg.RDSProxyHost, creds))
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	pc.MinConns = minConns
	pc.MaxConns = maxConns
	pc.MaxConnLifetime = maxConnLifetime
	pc.MaxConnIdleTime = maxConnIdleTime
	pc.ConnConfig.ConnectTimeout = connectTimeout

	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: keepalivePeriod}
	pc.ConnConfig.DialFunc = dialer.DialContext

	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] =
			fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Validate reachability up front so misconfiguration fails at startup,
	// retrying transient transport errors.
	op := func() error { return pool.Ping(ctx) }
	bo := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(200*time.Millisecond)),
		acquireRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database after %d attempts: %w", acquireRetries, err)
	}

	if log != nil {
		log.Debug("connection pool initialized", "host", cfg.RDSProxyHost, "database", creds.Database)
	}
	return pool, nil
}
