package bench

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/bufferserver/pkg/client"
	"github.com/downfa11-org/bufferserver/util"
)

type BenchmarkRunner struct {
	Addr               string
	Upstream           string
	NumProducers       int
	NumConsumers       int
	RecordsPerProducer int
	Partitions         int
	Policy             string
	EnableGzip         bool
}

// Result summarizes one benchmark run.
type Result struct {
	Published int
	Received  int64
	Duration  time.Duration
}

func (r Result) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Published) / r.Duration.Seconds()
}

// Run subscribes the consumers to one group, publishes from every producer
// and waits until the consumers went idle.
func (b *BenchmarkRunner) Run() (Result, error) {
	opts := client.Options{EnableGzip: b.EnableGzip}
	group := fmt.Sprintf("bench-%d", time.Now().UnixNano())

	var received int64
	var cwg sync.WaitGroup
	for i := 0; i < b.NumConsumers; i++ {
		c, err := client.Dial(b.Addr, opts)
		if err != nil {
			return Result{}, err
		}
		defer c.Close()
		if _, err := c.Subscribe(b.Upstream, group, client.SubscribeOptions{Policy: b.Policy}); err != nil {
			return Result{}, fmt.Errorf("consumer %d: %w", i, err)
		}
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				r, err := c.Next(time.Second)
				if err != nil {
					return
				}
				if r.Kind().IsData() {
					atomic.AddInt64(&received, 1)
				}
			}
		}()
	}

	start := time.Now()
	var pwg sync.WaitGroup
	errCh := make(chan error, b.NumProducers)
	for i := 0; i < b.NumProducers; i++ {
		pwg.Add(1)
		go func(pid int) {
			defer pwg.Done()
			if err := b.produce(opts, pid); err != nil {
				errCh <- fmt.Errorf("producer %d: %w", pid, err)
			}
		}(i)
	}
	pwg.Wait()
	close(errCh)
	duration := time.Since(start)
	if err := <-errCh; err != nil {
		return Result{}, err
	}

	cwg.Wait()
	return Result{
		Published: b.NumProducers * b.RecordsPerProducer,
		Received:  atomic.LoadInt64(&received),
		Duration:  duration,
	}, nil
}

func (b *BenchmarkRunner) produce(opts client.Options, pid int) error {
	c, err := client.Dial(b.Addr, opts)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Publish(b.Upstream); err != nil {
		return err
	}

	partitions := b.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	for i := 0; i < b.RecordsPerProducer; i++ {
		key := fmt.Sprintf("p%d", i%partitions)
		record, err := util.EncodePartitionedData([]byte(key), []byte(fmt.Sprintf("bench-P%d-%d", pid, i)))
		if err != nil {
			return err
		}
		if err := c.Send(record); err != nil {
			return err
		}
	}
	return nil
}

func (b *BenchmarkRunner) Print(r Result) {
	fmt.Printf("\n🧪 BENCHMARK RESULT 🧪\n")
	fmt.Printf("-------------------------------------\n")
	fmt.Printf(" Upstream      : %s\n", b.Upstream)
	fmt.Printf(" Producers     : %d\n", b.NumProducers)
	fmt.Printf(" Consumers     : %d (%s)\n", b.NumConsumers, b.Policy)
	fmt.Printf(" Partitions    : %d\n", b.Partitions)
	fmt.Printf(" Published     : %d\n", r.Published)
	fmt.Printf(" Received      : %d\n", r.Received)
	fmt.Printf(" Duration      : %v\n", r.Duration)
	fmt.Printf(" Throughput    : %.2f rec/sec\n", r.Throughput())
	fmt.Printf("-------------------------------------\n")
}
