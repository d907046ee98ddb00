package main

import (
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestMissingTopics(t *testing.T) {
	counts := partitionsByTopic([]kafka.Partition{
		{Topic: "harvester.candidates", ID: 0},
		{Topic: "harvester.candidates", ID: 1},
		{Topic: "__consumer_offsets", ID: 0},
	})
	if counts["harvester.candidates"] != 2 {
		t.Fatalf("expected 2 partitions, got %d", counts["harvester.candidates"])
	}

	got := missingTopics(counts, []string{"harvester.unit-failures", "harvester.candidates", "", "harvester.unit-failures", "harvester.audit"})
	want := []string{"harvester.audit", "harvester.unit-failures"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := missingTopics(counts, []string{"harvester.candidates"}); got != nil {
		t.Fatalf("expected no missing topics, got %v", got)
	}
}
