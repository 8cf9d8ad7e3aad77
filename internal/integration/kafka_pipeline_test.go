//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"

	kafkaadapter "github.com/couchcryptid/storm-data-wind-service/internal/adapter/kafka"
	"github.com/couchcryptid/storm-data-wind-service/internal/adapter/windserver"
	"github.com/couchcryptid/storm-data-wind-service/internal/artifact"
	"github.com/couchcryptid/storm-data-wind-service/internal/config"
	"github.com/couchcryptid/storm-data-wind-service/internal/contour"
	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
	"github.com/couchcryptid/storm-data-wind-service/internal/geometry"
	"github.com/couchcryptid/storm-data-wind-service/internal/observability"
	"github.com/couchcryptid/storm-data-wind-service/internal/partition"
	"github.com/couchcryptid/storm-data-wind-service/internal/pipeline"
)

const testArtifactTopic = "test-wind-artifacts"

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0", kafka.WithClusterID("wind-test-cluster"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
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
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// artifactMessage holds a deserialized notification read from the artifact topic.
type artifactMessage struct {
	Record  domain.ArtifactRecord
	Key     string
	Headers map[string]string
}

func readArtifact(ctx context.Context, t *testing.T, consumer *kafkago.Reader) artifactMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from artifact topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var record domain.ArtifactRecord
	require.NoError(t, json.Unmarshal(msg.Value, &record), "unmarshal artifact message")
	return artifactMessage{Record: record, Key: string(msg.Key), Headers: headers}
}

// stubContours stands in for the contour command with one band spanning
// boundaries A and B.
type stubContours struct{}

func (stubContours) Generate(_ context.Context, src, dest string, levels []float64, _ int) error {
	if _, err := os.Stat(src); err != nil {
		return err
	}
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Polygon{{{5, 0}, {15, 0}, {15, 10}, {5, 10}, {5, 0}}})
	f.Properties["level"] = levels[0]
	fc.Append(f)
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

type staticCatalog []domain.BoundaryFeature

func (c staticCatalog) Features() []domain.BoundaryFeature { return c }

// TestWriterPublish verifies the adapter alone: records round-trip through
// Kafka with key and headers intact.
func TestWriterPublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testArtifactTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaArtifactTopic: testArtifactTopic}
	writer := kafkaadapter.NewWriter(cfg, slog.Default())
	defer writer.Close()

	written := time.Date(2024, 5, 21, 12, 0, 0, 0, time.UTC)
	record := domain.ArtifactRecord{
		Abbreviation: "TX",
		Name:         "Texas",
		Path:         "/tmp/wind/state/TX_wind_speed_plot.json",
		Layer:        "global",
		Date:         "2024-05-20",
		FeatureCount: 3,
		Levels:       []float64{39, 47, 55},
		WrittenAt:    written,
	}
	require.NoError(t, writer.Publish(ctx, []domain.ArtifactRecord{record}))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testArtifactTopic,
		StartOffset: kafkago.FirstOffset,
	})
	defer consumer.Close()

	got := readArtifact(ctx, t, consumer)
	assert.Equal(t, "TX", got.Key)
	assert.Equal(t, "global", got.Headers["layer"])
	assert.Equal(t, written.Format(time.RFC3339), got.Headers["written_at"])
	assert.Equal(t, record, got.Record)
}

// TestPipelinePublishesArtifacts runs a full two-boundary batch against a
// stub wind server and checks one notification arrives per artifact.
func TestPipelinePublishesArtifacts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	const topic = testArtifactTopic + "-pipeline"
	createTopic(t, broker, topic)

	windSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/wind", r.URL.Path)
		_, _ = io.WriteString(w, "lat,lon,speed\n5,5,40\n")
	}))
	defer windSrv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaArtifactTopic: topic}
	writer := kafkaadapter.NewWriter(cfg, logger)
	defer writer.Close()

	p := pipeline.New(pipeline.Stages{
		Downloader:  windserver.NewClient(windSrv.URL, 5*time.Second, logger),
		Contours:    stubContours{},
		LoadLayer:   contour.LoadLayer,
		Partitioner: partition.New(geometry.NewIntersector(), logger, metrics, 2),
		Writer:      artifact.NewWriter(),
		Publisher:   writer,
	}, logger, metrics)

	outDir := filepath.Join(t.TempDir(), "wind")
	report, err := p.Run(ctx, pipeline.RunContext{
		Catalog: staticCatalog{
			{Abbreviation: "A", Name: "Alpha", Geometry: orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}},
			{Abbreviation: "B", Name: "Bravo", Geometry: orb.Polygon{{{10, 0}, {20, 0}, {20, 10}, {10, 10}, {10, 0}}}},
		},
		WorkDir: t.TempDir(),
		Options: pipeline.Options{
			Levels:       []float64{39},
			CPUTimeLimit: -1,
			OutputDir:    outDir,
			Regions:      []string{"a", "b"},
		},
	}, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, report.Artifacts, 2)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		StartOffset: kafkago.FirstOffset,
	})
	defer consumer.Close()

	keys := map[string]domain.ArtifactRecord{}
	for range report.Artifacts {
		msg := readArtifact(ctx, t, consumer)
		keys[msg.Key] = msg.Record
		assert.Equal(t, "global", msg.Headers["layer"])
	}
	require.Contains(t, keys, "A")
	require.Contains(t, keys, "B")
	assert.Equal(t, filepath.Join(outDir, "state", "A_wind_speed_plot.json"), keys["A"].Path)
	assert.Equal(t, 1, keys["B"].FeatureCount)
	assert.FileExists(t, keys["B"].Path)
}
