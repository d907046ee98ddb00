package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"candidate-harvester/common"
)

func main() {
	_ = godotenv.Load()
	broker := common.GetEnv("KAFKA_BROKER", "localhost:9092")
	topics := []string{
		common.GetEnv("KAFKA_CANDIDATES_TOPIC", "harvester.candidates"),
		common.GetEnv("KAFKA_FAILURES_TOPIC", "harvester.unit-failures"),
	}
	timeout := common.ParseDuration(common.GetEnv("KAFKA_CHECK_TIMEOUT", "5s"), 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to Kafka at %s: %v\n", broker, err)
		os.Exit(1)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read metadata: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("connected to Kafka at %s (%d partitions)\n", broker, len(partitions))
	counts := partitionsByTopic(partitions)
	missing := missingTopics(counts, topics)
	for _, topic := range topics {
		if n := counts[topic]; n > 0 {
			fmt.Printf("topic %s: %d partitions\n", topic, n)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "missing topics: %v (auto topic creation is disabled for producers)\n", missing)
		os.Exit(1)
	}
}

func partitionsByTopic(partitions []kafka.Partition) map[string]int {
	counts := make(map[string]int)
	for _, p := range partitions {
		counts[p.Topic]++
	}
	return counts
}

// missingTopics returns the wanted topics without partitions, sorted.
func missingTopics(counts map[string]int, want []string) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, topic := range want {
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		if counts[topic] == 0 {
			missing = append(missing, topic)
		}
	}
	sort.Strings(missing)
	return missing
}
