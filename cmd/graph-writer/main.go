package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"candidate-harvester/common"
	"candidate-harvester/internal/crawler"
	"candidate-harvester/internal/graph"
	"candidate-harvester/internal/logger"
	"candidate-harvester/internal/models"
)

type graphStore interface {
	WriteCandidate(ctx context.Context, rec models.CandidateRecord) error
	WriteFailure(ctx context.Context, f models.UnitFailure) error
}

var (
	// Counters for graph-writer throughput and failures exposed on /metrics.
	graphWriterCandidatesReceived uint64
	graphWriterCandidatesWritten  uint64
	graphWriterCandidatesFailed   uint64
	graphWriterFailuresReceived   uint64
	graphWriterFailuresWritten    uint64
	graphWriterFailuresFailed     uint64
)

var log = zerolog.Nop()

func main() {
	_ = godotenv.Load()
	if err := logger.Init(models.LogConf{
		Level:  common.GetEnv("LOG_LEVEL", "info"),
		Format: common.GetEnv("LOG_FORMAT", "console"),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	log = logger.WithComponent("graph-writer")

	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	candidatesTopic := common.GetEnv("KAFKA_CANDIDATES_TOPIC", "harvester.candidates")
	failuresTopic := common.GetEnv("KAFKA_FAILURES_TOPIC", "harvester.unit-failures")
	candidatesGroup := common.GetEnv("KAFKA_CANDIDATES_GROUP", "harvester-graph-candidates")
	failuresGroup := common.GetEnv("KAFKA_FAILURES_GROUP", "harvester-graph-failures")
	metricsAddr := common.GetEnv("METRICS_ADDR", ":9091")

	neo4jURI := common.GetEnv("NEO4J_URI", "neo4j://localhost:7687")
	neo4jUser := common.GetEnv("NEO4J_USER", "neo4j")
	neo4jPassword := common.GetEnv("NEO4J_PASSWORD", "neo4j")

	driver, err := graph.NewDriver(neo4jURI, neo4jUser, neo4jPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("neo4j driver error")
	}
	defer func() {
		if err := driver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("neo4j close error")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	writer := graph.NewWriter(driver, log)
	constraintsCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := writer.EnsureConstraints(constraintsCtx); err != nil {
		log.Warn().Err(err).Msg("could not ensure graph constraints")
	}
	cancel()

	candidatesReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   candidatesTopic,
		GroupID: candidatesGroup,
	})
	defer func() {
		if err := candidatesReader.Close(); err != nil {
			log.Error().Err(err).Msg("candidates reader close error")
		}
	}()

	failuresReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   failuresTopic,
		GroupID: failuresGroup,
	})
	defer func() {
		if err := failuresReader.Close(); err != nil {
			log.Error().Err(err).Msg("failures reader close error")
		}
	}()

	if metricsAddr != "" {
		startMetricsServer(ctx, metricsAddr)
	}

	log.Info().Str("broker", broker).Str("candidates_topic", candidatesTopic).Str("failures_topic", failuresTopic).Msg("graph writer consuming")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		consumeCandidates(ctx, candidatesReader, writer)
	}()
	go func() {
		defer wg.Done()
		consumeFailures(ctx, failuresReader, writer)
	}()
	wg.Wait()
}

func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", handleMetrics)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics shutdown error")
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	body := fmt.Sprintf(
		"harvester_graph_writer_up 1\n"+
			"harvester_graph_writer_candidates_received_total %d\n"+
			"harvester_graph_writer_candidates_written_total %d\n"+
			"harvester_graph_writer_candidates_failed_total %d\n"+
			"harvester_graph_writer_failures_received_total %d\n"+
			"harvester_graph_writer_failures_written_total %d\n"+
			"harvester_graph_writer_failures_failed_total %d\n",
		atomic.LoadUint64(&graphWriterCandidatesReceived),
		atomic.LoadUint64(&graphWriterCandidatesWritten),
		atomic.LoadUint64(&graphWriterCandidatesFailed),
		atomic.LoadUint64(&graphWriterFailuresReceived),
		atomic.LoadUint64(&graphWriterFailuresWritten),
		atomic.LoadUint64(&graphWriterFailuresFailed),
	)
	_, _ = w.Write([]byte(body))
}

func consumeCandidates(ctx context.Context, reader crawler.MessageReader, writer graphStore) {
	consume(ctx, reader, "candidates", &graphWriterCandidatesReceived, &graphWriterCandidatesWritten, &graphWriterCandidatesFailed,
		func(payload []byte) error { return writeCandidate(ctx, writer, payload) })
}

func consumeFailures(ctx context.Context, reader crawler.MessageReader, writer graphStore) {
	consume(ctx, reader, "failures", &graphWriterFailuresReceived, &graphWriterFailuresWritten, &graphWriterFailuresFailed,
		func(payload []byte) error { return writeFailure(ctx, writer, payload) })
}

// consume commits a message only after it was written; failed writes are redelivered after a restart.
func consume(ctx context.Context, reader crawler.MessageReader, name string, received, written, failed *uint64, handle func([]byte) error) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", name).Msg("fetch error")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		atomic.AddUint64(received, 1)
		if err := handle(msg.Value); err != nil {
			atomic.AddUint64(failed, 1)
			log.Error().Err(err).Str("topic", name).Int64("offset", msg.Offset).Msg("write error")
			continue
		}
		atomic.AddUint64(written, 1)

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Str("topic", name).Msg("commit error")
		}
	}
}

func writeCandidate(ctx context.Context, writer graphStore, payload []byte) error {
	var rec models.CandidateRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return err
	}
	return writer.WriteCandidate(ctx, rec)
}

func writeFailure(ctx context.Context, writer graphStore, payload []byte) error {
	var f models.UnitFailure
	if err := json.Unmarshal(payload, &f); err != nil {
		return err
	}
	return writer.WriteFailure(ctx, f)
}
