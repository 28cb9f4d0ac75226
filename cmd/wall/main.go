// Command wall runs a headless barrage wall against a running API. It
// is mainly a smoke-test client: placements and removals are written to
// the log instead of a screen.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"barrage/internal/overlay"
)

type logSurface struct {
	charWidth float64
}

func (s *logSurface) Measure(item overlay.Item) float64 {
	return float64(utf8.RuneCountInString(item.Content)) * s.charWidth
}

func (s *logSurface) Show(p overlay.Placement) {
	log.Printf("show id=%d lane=%d y=%.0f dur=%s mode=%s %q by %s",
		p.Item.ID, p.Lane, p.Y, p.Duration.Round(time.Millisecond), p.Item.Mode, p.Item.Content, p.Item.Username)
}

func (s *logSurface) Remove(id int64) {
	log.Printf("remove id=%d", id)
}

func main() {
	baseURL := flag.String("url", "http://localhost:8788", "wall API base URL")
	width := flag.Float64("width", 1280, "viewport width in px")
	height := flag.Float64("height", 720, "viewport height in px")
	laneHeight := flag.Float64("lane-height", 48, "lane height in px")
	charWidth := flag.Float64("char-width", 16, "assumed rendered width per rune in px")
	flag.Parse()

	engine := overlay.NewEngine(overlay.Config{
		ViewportWidth:  *width,
		ViewportHeight: *height,
		LaneHeight:     *laneHeight,
	}, overlay.NewHTTPSource(*baseURL), &logSurface{charWidth: *charWidth})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	log.Printf("wall client watching %s (%gx%g)", *baseURL, *width, *height)
	if err := engine.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("wall stopped: %v", err)
	}
}
