package main

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fankserver/meetcap/internal/audio"
	"github.com/fankserver/meetcap/internal/diarization"
	"github.com/fankserver/meetcap/internal/pipeline"
)

// BenchmarkResults holds one benchmark's results.
type BenchmarkResults struct {
	TestName            string
	Duration            time.Duration
	OperationsPerSecond float64
	MemoryUsed          uint64
	GoroutineCount      int
	Details             string
}

func main() {
	fmt.Println("meetcap - Pipeline Performance Benchmarks")
	fmt.Println("==========================================")

	results := make([]BenchmarkResults, 0)

	fmt.Println("\n1. Queue Throughput")
	results = append(results, benchmarkQueueThroughput())

	fmt.Println("\n2. Event Bus Throughput")
	results = append(results, benchmarkEventBus())

	fmt.Println("\n3. Silence Detection")
	results = append(results, benchmarkSilenceDetector())

	fmt.Println("\n4. Voice Feature Extraction")
	results = append(results, benchmarkFeatureExtraction())

	fmt.Println("\n5. Speaker Attribution")
	results = append(results, benchmarkSpeakerAttribution())

	fmt.Println("\n6. Feature Extraction Memory Usage")
	results = append(results, benchmarkFeatureExtractionMemory())

	printBenchmarkSummary(results)
}

func benchmarkQueueThroughput() BenchmarkResults {
	const items = 50000
	queue := pipeline.NewQueue[int]("benchmark", 256)
	ctx := context.Background()

	var memBefore runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memBefore)

	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < items; i++ {
			_, _ = queue.Pop(ctx)
		}
	}()

	for i := 0; i < items; i++ {
		_ = queue.Push(ctx, i)
	}
	wg.Wait()
	duration := time.Since(start)

	var memAfter runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memAfter)

	opsPerSec := float64(items) / duration.Seconds()
	memUsed := memAfter.Alloc - memBefore.Alloc

	fmt.Printf("  Pushed/popped %d items in %v\n", items, duration)
	fmt.Printf("  Throughput: %.2f items/sec\n", opsPerSec)

	return BenchmarkResults{
		TestName:            "Queue Throughput",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d items, capacity 256", items),
	}
}

func benchmarkEventBus() BenchmarkResults {
	const events = 20000
	const subscribers = 5

	bus := pipeline.NewEventBus(1000)

	var eventCounter int64
	var wg sync.WaitGroup
	unsubscribes := make([]func(), subscribers)
	for i := 0; i < subscribers; i++ {
		unsubscribes[i] = bus.SubscribeAll(func(event pipeline.Event) {
			atomic.AddInt64(&eventCounter, 1)
		})
	}

	var memBefore runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memBefore)

	start := time.Now()
	for i := 0; i < events; i++ {
		bus.Publish(pipeline.Event{Type: pipeline.EventSegmentStored, SessionID: "bench", Data: i})
	}
	wg.Wait()
	time.Sleep(200 * time.Millisecond) // let goroutine-per-handler delivery settle
	duration := time.Since(start)

	for _, unsub := range unsubscribes {
		unsub()
	}
	bus.Stop()

	var memAfter runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memAfter)

	opsPerSec := float64(events) / duration.Seconds()
	memUsed := memAfter.Alloc - memBefore.Alloc

	fmt.Printf("  Published %d events to %d subscribers in %v\n", events, subscribers, duration)
	fmt.Printf("  Events delivered: %d\n", atomic.LoadInt64(&eventCounter))

	return BenchmarkResults{
		TestName:            "Event Bus",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d events, %d subscribers, %d delivered", events, subscribers, atomic.LoadInt64(&eventCounter)),
	}
}

func benchmarkSilenceDetector() BenchmarkResults {
	const iterations = 100000
	const frameSize = 480 // 30ms @ 16kHz

	vad := audio.NewSilenceDetector(0)
	speech := make([]float32, frameSize)
	for i := range speech {
		speech[i] = float32(math.Sin(float64(i) * 0.3))
	}
	silence := make([]float32, frameSize)

	var memBefore runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memBefore)

	start := time.Now()
	silentCount := 0
	for i := 0; i < iterations; i++ {
		frame := speech
		if i%3 == 0 {
			frame = silence
		}
		if vad.IsSilent(frame) {
			silentCount++
		}
	}
	duration := time.Since(start)

	var memAfter runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memAfter)

	opsPerSec := float64(iterations) / duration.Seconds()
	memUsed := memAfter.Alloc - memBefore.Alloc

	fmt.Printf("  Checked %d frames in %v\n", iterations, duration)
	fmt.Printf("  Silent frames: %d (%.1f%%)\n", silentCount, float64(silentCount)*100/float64(iterations))

	return BenchmarkResults{
		TestName:            "Silence Detection",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d frames, %.1f%% silent", iterations, float64(silentCount)*100/float64(iterations)),
	}
}

func sineWave(freq float64, sampleRate, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func benchmarkFeatureExtraction() BenchmarkResults {
	const iterations = 500
	const sampleRate = 16000

	extractor := diarization.NewExtractor(sampleRate)
	samples := sineWave(150, sampleRate, sampleRate) // 1s @ 150Hz

	var memBefore runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memBefore)

	start := time.Now()
	for i := 0; i < iterations; i++ {
		if _, err := extractor.Extract(samples); err != nil {
			fmt.Printf("  extraction error: %v\n", err)
		}
	}
	duration := time.Since(start)

	var memAfter runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memAfter)

	opsPerSec := float64(iterations) / duration.Seconds()
	memUsed := memAfter.Alloc - memBefore.Alloc

	fmt.Printf("  Extracted %d 1s vectors in %v\n", iterations, duration)
	fmt.Printf("  Vectors/sec: %.2f\n", opsPerSec)

	return BenchmarkResults{
		TestName:            "Voice Feature Extraction",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d one-second segments @ %d Hz", iterations, sampleRate),
	}
}

func benchmarkSpeakerAttribution() BenchmarkResults {
	const iterations = 5000
	const sampleRate = 16000

	registry := diarization.NewRegistry(0.8)
	extractor := diarization.NewExtractor(sampleRate)
	samples := sineWave(150, sampleRate, sampleRate/2)
	vector, err := extractor.Extract(samples)
	if err != nil {
		fmt.Printf("  setup extraction error: %v\n", err)
	}

	var memBefore runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memBefore)

	start := time.Now()
	for i := 0; i < iterations; i++ {
		registry.Attribute(vector)
	}
	duration := time.Since(start)

	var memAfter runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memAfter)

	opsPerSec := float64(iterations) / duration.Seconds()
	memUsed := memAfter.Alloc - memBefore.Alloc

	fmt.Printf("  Attributed %d segments in %v\n", iterations, duration)
	fmt.Printf("  Profiles created: %d\n", len(registry.Profiles()))

	return BenchmarkResults{
		TestName:            "Speaker Attribution",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d segments against the same voice", iterations),
	}
}

func benchmarkFeatureExtractionMemory() BenchmarkResults {
	const duration = 5 * time.Second
	const samplingInterval = 100 * time.Millisecond
	const sampleRate = 16000

	extractor := diarization.NewExtractor(sampleRate)
	samples := sineWave(150, sampleRate, sampleRate)

	var maxMemory uint64
	var sampleTotal uint64
	var sampleCount int

	start := time.Now()
	ticker := time.NewTicker(samplingInterval)
	defer ticker.Stop()

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = extractor.Extract(samples)
			}
		}
	}()

	fmt.Printf("  Running feature-extraction memory test for %v...\n", duration)
	for time.Since(start) < duration {
		<-ticker.C
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		sampleTotal += memStats.Alloc
		sampleCount++
		if memStats.Alloc > maxMemory {
			maxMemory = memStats.Alloc
		}
	}
	close(stop)

	avgMemory := sampleTotal / uint64(sampleCount)

	fmt.Printf("  Max memory usage: %.2f MB\n", float64(maxMemory)/1024/1024)
	fmt.Printf("  Average memory usage: %.2f MB\n", float64(avgMemory)/1024/1024)

	return BenchmarkResults{
		TestName:            "Feature Extraction Memory",
		Duration:            duration,
		OperationsPerSecond: 0,
		MemoryUsed:          maxMemory,
		GoroutineCount:      runtime.NumGoroutine(),
		Details: fmt.Sprintf("Max: %.2f MB, Avg: %.2f MB, %d samples",
			float64(maxMemory)/1024/1024, float64(avgMemory)/1024/1024, sampleCount),
	}
}

func printBenchmarkSummary(results []BenchmarkResults) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BENCHMARK SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	for _, result := range results {
		fmt.Printf("\n%s\n", result.TestName)
		fmt.Printf("   Duration: %v\n", result.Duration)
		if result.OperationsPerSecond > 0 {
			fmt.Printf("   Ops/sec: %.2f\n", result.OperationsPerSecond)
		}
		fmt.Printf("   Memory: %.2f MB\n", float64(result.MemoryUsed)/1024/1024)
		fmt.Printf("   Goroutines: %d\n", result.GoroutineCount)
		fmt.Printf("   Details: %s\n", result.Details)
	}

	var bestOpsPerSec float64
	var bestTest string
	for _, result := range results {
		if result.OperationsPerSecond > bestOpsPerSec {
			bestOpsPerSec = result.OperationsPerSecond
			bestTest = result.TestName
		}
	}
	if bestTest != "" {
		fmt.Printf("\nHighest throughput: %s (%.2f ops/sec)\n", bestTest, bestOpsPerSec)
	}

	var totalMemory uint64
	for _, result := range results {
		totalMemory += result.MemoryUsed
	}
	fmt.Printf("Total memory used across tests: %.2f MB\n", float64(totalMemory)/1024/1024)
	fmt.Printf("Current goroutines: %d\n", runtime.NumGoroutine())
}
