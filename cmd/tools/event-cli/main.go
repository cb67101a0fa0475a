package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/annel0/navgraph/internal/eventbus"
	navsync "github.com/annel0/navgraph/internal/sync"
)

const (
	defaultNATSURL = "nats://127.0.0.1:4222"
	timeFormat     = "15:04:05.000"
)

func main() {
	var (
		natsURL    = flag.String("nats", defaultNATSURL, "NATS server URL")
		stream     = flag.String("stream", "NAVGRAPH", "JetStream stream name")
		command    = flag.String("cmd", "tail", "Command: tail, stats")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		sources    = flag.String("sources", "", "Source node IDs filter (comma-separated)")
		duration   = flag.Duration("for", 0, "Stop after this long (0 — until Ctrl+C)")
		limit      = flag.Int("limit", 0, "Stop after this many events (0 — no limit)")
	)
	flag.Parse()

	bus, err := eventbus.NewJetStreamBus(*natsURL, *stream, 0)
	if err != nil {
		log.Fatalf("❌ Failed to connect to NATS: %v", err)
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	filter := eventbus.Filter{Types: parseStringList(*eventTypes), Sources: parseStringList(*sources)}
	switch *command {
	case "tail":
		err = tailEvents(ctx, bus, filter, *limit)
	case "stats":
		err = showStats(ctx, bus, filter)
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

// decoder разбирает пакеты изменений в любом из форматов ленты
type decoder struct {
	zstd  navsync.DeltaCompressor
	plain navsync.DeltaCompressor
}

func newDecoder() (*decoder, error) {
	z, err := navsync.NewZstdCompressor()
	if err != nil {
		return nil, err
	}
	return &decoder{zstd: z, plain: navsync.NewPassthroughCompressor()}, nil
}

func (d *decoder) changes(payload []byte) ([]navsync.RegionChange, error) {
	if changes, err := d.zstd.Decompress(payload); err == nil {
		return changes, nil
	}
	return d.plain.Decompress(payload)
}

// tailEvents выводит события в реальном времени
func tailEvents(ctx context.Context, bus eventbus.EventBus, filter eventbus.Filter, limit int) error {
	dec, err := newDecoder()
	if err != nil {
		return err
	}
	fmt.Printf("🎬 Tailing navgraph events (limit: %d)\n", limit)

	var mu sync.Mutex
	count := 0
	done := make(chan struct{})
	var doneOnce sync.Once
	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		printEvent(dec, ev)
		count++
		if limit > 0 && count >= limit {
			doneOnce.Do(func() { close(done) })
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	select {
	case <-ctx.Done():
	case <-done:
	}
	mu.Lock()
	fmt.Printf("\n📊 Total events: %d\n", count)
	mu.Unlock()
	return nil
}

// showStats считает события по типу и источнику до остановки
func showStats(ctx context.Context, bus eventbus.EventBus, filter eventbus.Filter) error {
	fmt.Println("📊 Collecting event statistics (Ctrl+C to finish)")
	var mu sync.Mutex
	byType := make(map[string]int)
	bySource := make(map[string]int)
	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		byType[ev.EventType]++
		bySource[ev.Source]++
		mu.Unlock()
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	sub.Unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	fmt.Println("\nBy event type:")
	printCounts(byType)
	fmt.Println("\nBy source:")
	printCounts(bySource)
	return nil
}

func printCounts(m map[string]int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %d events\n", k, m[k])
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(dec *decoder, ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s p=%d\n",
		ev.Timestamp.Format(timeFormat), ev.Source, ev.EventType, ev.ID, ev.Priority)

	// Добавляем детали в зависимости от типа события
	switch ev.EventType {
	case eventbus.TypeRegionUpdated:
		changes, err := dec.changes(ev.Payload)
		if err != nil {
			fmt.Printf("  ⚠️ undecodable batch: %v\n", err)
			return
		}
		for _, ch := range changes {
			fmt.Printf("  %s %s %s gen=%d\n", ch.Kind, ch.Mode, ch.Rect, ch.Generation)
		}
	case eventbus.TypeGraphRebuilt:
		var rb navsync.RebuiltEvent
		if err := json.Unmarshal(ev.Payload, &rb); err == nil {
			fmt.Printf("  %s %dx%d gen=%d snapshot=%q\n", rb.Kind, rb.Layout.Width, rb.Layout.Depth, rb.Generation, rb.Snapshot)
		}
	default:
		fmt.Printf("  %s\n", ev.Payload)
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
