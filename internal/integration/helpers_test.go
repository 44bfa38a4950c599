//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

var epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("epanomaly-test"))
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start kafka container")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     3,
		ReplicationFactor: 1,
	}))
}

func dailySeries(site domain.SiteID, variable string, values []float64) domain.DailySeries {
	s := domain.DailySeries{Site: site, Variable: variable}
	for i, v := range values {
		s.Rows = append(s.Rows, domain.DailyObservation{
			Date:      epoch.AddDate(0, 0, i),
			Value:     v,
			Residual:  domain.Missing(),
			HourlyMSE: domain.Missing(),
		})
	}
	return s
}

// spikeValues repeats a calm pattern with one extreme reading at index 4.
func spikeValues(n int, spike bool) []float64 {
	base := []float64{10, 12, 11, 13, 12, 11, 10, 13, 12, 11}
	values := make([]float64, n)
	for i := range values {
		values[i] = base[i%len(base)]
	}
	if spike {
		values[4] = 200
	}
	return values
}
