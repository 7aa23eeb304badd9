package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/fankserver/meetcap/internal/audio"
	"github.com/fankserver/meetcap/internal/diarization"
	"github.com/fankserver/meetcap/internal/pipeline"
	"github.com/fankserver/meetcap/internal/transcription"
	"github.com/fankserver/meetcap/internal/vectorization"
)

// sineChunk synthesizes a short voiced chunk so the diarization extractor
// has something other than silence to pull a feature vector from.
func sineChunk(id string, seq uint64) *audio.Chunk {
	const sampleRate = 16000
	const duration = 3 * time.Second
	n := int(float64(sampleRate) * duration.Seconds())
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*180*float64(i)/float64(sampleRate)))
	}
	return &audio.Chunk{
		ID:         id,
		Sequence:   seq,
		StartTime:  time.Now(),
		Duration:   duration,
		SampleRate: sampleRate,
		Channels:   1,
		Samples:    samples,
	}
}

func main() {
	fmt.Println("meetcap pipeline smoke test")
	fmt.Println("===========================")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := pipeline.NewEventBus(64)
	defer bus.Stop()

	var delivered int
	bus.SubscribeAll(func(pipeline.Event) { delivered++ })

	fmt.Println("\n1. Wiring stages with mock providers...")
	audioQueue := pipeline.NewQueue[*audio.Chunk]("audio", 8)
	transcriptQueue := pipeline.NewQueue[*transcription.Segment]("transcript", 8)
	diarizationIn := pipeline.NewQueue[*diarization.Input]("diarization_in", 8)
	diarizedQueue := pipeline.NewQueue[*diarization.Segment]("diarized", 8)
	vectorQueue := pipeline.NewQueue[*vectorization.Segment]("vectorized", 8)

	transcriptionStage := transcription.NewStage(transcription.NewMockProvider(), transcription.DefaultStageConfig(), audioQueue, transcriptQueue, bus)
	registry := diarization.NewRegistry(0.8)
	diarizationStage := diarization.NewStage(registry, 16000, diarizationIn, diarizedQueue, bus)
	vectorCfg := vectorization.DefaultStageConfig()
	vectorCfg.Timeout = time.Second // flush quickly for a one-segment demo run
	vectorizationStage := vectorization.NewStage(vectorization.NewMockProvider(32), vectorCfg, diarizedQueue, vectorQueue, bus)
	fmt.Println("✓ transcription, diarization and vectorization stages wired")

	go transcriptionStage.Run(ctx)
	go diarizationStage.Run(ctx)
	go vectorizationStage.Run(ctx)

	// The diarization stage consumes samples alongside each transcript
	// segment, which the real orchestrator supplies from its chunk sample
	// cache. Here we bridge the two queues directly since there's only one
	// chunk in flight.
	samplesByChunk := map[string][]float32{}

	fmt.Println("\n2. Pushing a synthetic audio chunk...")
	chunk := sineChunk("chunk-0", 0)
	samplesByChunk[chunk.ID] = chunk.Samples
	if err := audioQueue.Push(ctx, chunk); err != nil {
		log.Fatalf("failed to push chunk: %v", err)
	}
	fmt.Println("✓ chunk queued")

	fmt.Println("\n3. Waiting for a transcript segment...")
	seg, ok := transcriptQueue.Pop(ctx)
	if !ok {
		log.Fatal("transcript queue closed before producing a segment")
	}
	fmt.Printf("✓ transcript: %q (confidence=%.2f)\n", seg.Text, seg.Confidence)

	if err := diarizationIn.Push(ctx, &diarization.Input{
		Segment:    seg,
		Samples:    samplesByChunk[seg.ChunkID],
		SampleRate: 16000,
	}); err != nil {
		log.Fatalf("failed to push diarization input: %v", err)
	}

	fmt.Println("\n4. Waiting for a diarized segment...")
	diarized, ok := diarizedQueue.Pop(ctx)
	if !ok {
		log.Fatal("diarized queue closed before producing a segment")
	}
	fmt.Printf("✓ attributed to speaker %s (change=%v)\n", diarized.SpeakerID, diarized.IsSpeakerChange)

	fmt.Println("\n5. Waiting for a vectorized segment...")
	vectorized, ok := vectorQueue.Pop(ctx)
	if !ok {
		log.Fatal("vector queue closed before producing a segment")
	}
	fmt.Printf("✓ embedding dimension=%d, key phrases=%v\n", len(vectorized.Embedding), vectorized.KeyPhrases)

	fmt.Println("\n6. Checking stage health...")
	for _, name := range []string{"transcription", "diarization", "vectorization"} {
		h := map[string]*pipeline.StageHealth{
			"transcription": transcriptionStage.Health(),
			"diarization":   diarizationStage.Health(),
			"vectorization": vectorizationStage.Health(),
		}[name]
		status := h.Status()
		fmt.Printf("✓ %s: %s\n", name, status.State)
	}

	fmt.Println("\n7. Graceful shutdown...")
	shutdownStart := time.Now()
	cancel()
	audioQueue.Close()
	transcriptQueue.Close()
	diarizationIn.Close()
	diarizedQueue.Close()
	vectorQueue.Close()
	time.Sleep(50 * time.Millisecond) // let the stage goroutines observe ctx.Done
	fmt.Printf("✓ shutdown completed in %v (events delivered: %d)\n", time.Since(shutdownStart), delivered)

	fmt.Println("\nPipeline smoke test passed: audio -> transcription -> diarization -> vectorization")
	os.Exit(0)
}
