package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"murmur/config"
	"murmur/encoder"
	"murmur/recorder"
	"murmur/transcriber"
)

// percentiles holds min, p50, p90, p95 and max.
type percentiles [5]float64

func percentileOf(vals []float64) percentiles {
	if len(vals) == 0 {
		return percentiles{}
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	at := func(p float64) float64 { return sorted[int(float64(len(sorted)-1)*p)] }
	return percentiles{sorted[0], at(0.50), at(0.90), at(0.95), sorted[len(sorted)-1]}
}

func (p percentiles) row(label string) string {
	return fmt.Sprintf("%-8s %6.0f %6.0f %6.0f %6.0f %6.0f", label, p[0], p[1], p[2], p[3], p[4])
}

// runBench uploads the same clip runs times and prints per-run text and a
// latency summary.
func runBench(ctx context.Context, cfg config.Config, wavPath string, runs int, out io.Writer) error {
	f, err := os.Open(wavPath)
	if err != nil {
		return err
	}
	samples, rate, err := encoder.DecodeWAV(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", wavPath, err)
	}
	tr, err := transcriber.New(cfg.TranscriberConfig())
	if err != nil {
		return err
	}
	return bench(ctx, tr, recorder.AudioClip{ID: uuid.NewString(), SampleRate: rate, Channels: 1, Samples: samples}, runs, out)
}

func bench(ctx context.Context, tr transcriber.Transcriber, clip recorder.AudioClip, runs int, out io.Writer) error {
	fmt.Fprintf(out, "Benchmark: %.1fs of audio, %d runs\n", clip.Duration().Seconds(), runs)
	var totals []float64
	for i := 1; i <= runs; i++ {
		start := time.Now()
		text, err := tr.Transcribe(ctx, clip)
		if err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
		elapsed := time.Since(start)
		totals = append(totals, ms(elapsed))
		if text == "" {
			text = "(no speech detected)"
		}
		fmt.Fprintf(out, "run %d  %5.0fms  %s\n", i, ms(elapsed), text)
	}
	fmt.Fprintf(out, "\n%-8s %6s %6s %6s %6s %6s\n", "", "min", "p50", "p90", "p95", "max")
	fmt.Fprintln(out, percentileOf(totals).row("total"))
	return nil
}
