//go:build integration

package integration

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Env is a disposable PostGIS + Kafka pair for tests that need the real
// spatial index, row locks and broker.
type Env struct {
	PG    *postgres.PostgresContainer
	Kafka *kafka.KafkaContainer
	PGURL string
	KAddr []string
}

func Setup(ctx context.Context) (*Env, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	pgC, err := postgres.Run(ctx,
		"postgis/postgis:16-3.4-alpine",
		postgres.WithDatabase("scrap"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}
	env := &Env{PG: pgC}

	env.PGURL, err = pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}

	env.Kafka, err = kafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafka.WithClusterID("scrap-pickup-test"),
	)
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	env.KAddr, err = env.Kafka.Brokers(ctx)
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	return env, nil
}

func (e *Env) Teardown(context.Context) {
	if e.Kafka != nil {
		_ = testcontainers.TerminateContainer(e.Kafka)
	}
	if e.PG != nil {
		_ = testcontainers.TerminateContainer(e.PG)
	}
}
