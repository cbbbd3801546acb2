package main

import (
	"flag"
	"log"

	"github.com/downfa11-org/bufferserver/pkg/bench"
)

func main() {
	addr := flag.String("addr", "localhost:9000", "buffer server address")
	upstream := flag.String("upstream", "bench-upstream", "upstream name for benchmark")
	partitions := flag.Int("partitions", 12, "number of partition keys")
	producers := flag.Int("producers", 12, "number of producers")
	consumers := flag.Int("consumers", 4, "number of consumers in the group")
	records := flag.Int("records", 1000, "records per producer")
	policy := flag.String("policy", "roundrobin", "distribution policy (broadcast, roundrobin, sticky)")
	gzip := flag.Bool("gzip", false, "enable gzip frames")
	flag.Parse()

	runner := &bench.BenchmarkRunner{
		Addr:               *addr,
		Upstream:           *upstream,
		NumProducers:       *producers,
		NumConsumers:       *consumers,
		RecordsPerProducer: *records,
		Partitions:         *partitions,
		Policy:             *policy,
		EnableGzip:         *gzip,
	}
	res, err := runner.Run()
	if err != nil {
		log.Fatalf("❌ Benchmark failed: %v", err)
	}
	runner.Print(res)
}
