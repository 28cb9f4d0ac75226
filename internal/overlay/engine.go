package overlay

import (
	"context"
	"log"
	"math/rand"
	"time"
)

type Config struct {
	ViewportWidth  float64
	ViewportHeight float64
	LaneHeight     float64

	PollInterval   time.Duration
	ReplayInterval time.Duration

	// InitialStagger spaces out the first burst of items so the wall
	// fills gradually instead of all at once.
	InitialStagger time.Duration

	// LowTraffic is the on-screen count below which old items are
	// replayed.
	LowTraffic int

	// MinDuration is the floor on crossing time so very short items
	// stay readable.
	MinDuration time.Duration

	// CenterDwell is how long a center-mode item stays put.
	CenterDwell time.Duration
}

func (c *Config) fillDefaults() {
	if c.LaneHeight <= 0 {
		c.LaneHeight = 48
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.ReplayInterval <= 0 {
		c.ReplayInterval = 2 * time.Second
	}
	if c.InitialStagger <= 0 {
		c.InitialStagger = 1500 * time.Millisecond
	}
	if c.LowTraffic <= 0 {
		c.LowTraffic = 15
	}
	if c.MinDuration <= 0 {
		c.MinDuration = 5 * time.Second
	}
	if c.CenterDwell <= 0 {
		c.CenterDwell = 5 * time.Second
	}
}

type stopper interface {
	Stop() bool
}

// Engine pulls items from a Source and plays them on a Surface. Run
// owns all state; timers and external callers hand work to the run
// goroutine through the events channel.
type Engine struct {
	cfg     Config
	source  Source
	surface Surface

	lanes    *laneTable
	cursor   int64
	seen     map[int64]bool
	history  []Item
	onScreen map[int64]int // id -> lane, -1 for center
	timers   map[int64]stopper
	pending  []stopper // burst stagger and burst-done timers

	burstDone bool

	events chan func()
	done   chan struct{}

	now       func() time.Time
	afterFunc func(d time.Duration, fn func()) stopper
	rand      *rand.Rand
}

func NewEngine(cfg Config, source Source, surface Surface) *Engine {
	cfg.fillDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	e := &Engine{
		cfg:      cfg,
		source:   source,
		surface:  surface,
		seen:     map[int64]bool{},
		onScreen: map[int64]int{},
		timers:   map[int64]stopper{},
		events:   make(chan func(), 128),
		done:     make(chan struct{}),
		now:      time.Now,
		rand:     rng,
	}
	e.afterFunc = func(d time.Duration, fn func()) stopper {
		return time.AfterFunc(d, fn)
	}
	e.lanes = newLaneTable(cfg.ViewportHeight, cfg.LaneHeight, func() time.Time { return e.now() }, rng)
	return e
}

// Run blocks until ctx is cancelled, then tears down every timer and
// reservation so late fires are no-ops.
func (e *Engine) Run(ctx context.Context) error {
	e.pollOnce(ctx, true)

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()
	replay := time.NewTicker(e.cfg.ReplayInterval)
	defer replay.Stop()

	for {
		select {
		case <-ctx.Done():
			e.teardown()
			return ctx.Err()
		case fn := <-e.events:
			fn()
		case <-poll.C:
			e.pollOnce(ctx, false)
		case <-replay.C:
			e.replayOne()
		}
	}
}

// Resize reports a new viewport height. Handled on the run goroutine.
func (e *Engine) Resize(height float64) {
	e.post(func() {
		e.cfg.ViewportHeight = height
		if e.lanes.resize(height) {
			log.Printf("viewport resized, lane table rebuilt with %d lanes", e.lanes.count())
		}
	})
}

func (e *Engine) post(fn func()) {
	select {
	case e.events <- fn:
	case <-e.done:
	}
}

// pollOnce pulls and spawns new items. Failures leave the cursor
// untouched and wait for the next tick.
func (e *Engine) pollOnce(ctx context.Context, initial bool) {
	items, err := e.source.Pull(ctx, e.cursor)
	if err != nil {
		log.Printf("pull failed: %v", err)
		if initial {
			e.burstDone = true
		}
		return
	}
	if len(items) == 0 {
		if initial {
			e.burstDone = true
		}
		return
	}

	var lastDelay time.Duration
	for i, item := range items {
		if item.ID > e.cursor {
			e.cursor = item.ID
		}
		e.remember(item)

		if !initial {
			e.spawn(item)
			continue
		}
		// Jitter stays below the stagger step so the burst keeps the
		// server's ascending order.
		delay := time.Duration(i)*e.cfg.InitialStagger +
			time.Duration(e.rand.Int63n(int64(e.cfg.InitialStagger)))
		if delay > lastDelay {
			lastDelay = delay
		}
		spawnItem := item
		e.pending = append(e.pending, e.afterFunc(delay, func() {
			e.post(func() { e.spawn(spawnItem) })
		}))
	}

	if initial {
		e.pending = append(e.pending, e.afterFunc(lastDelay+e.cfg.InitialStagger, func() {
			e.post(func() { e.burstDone = true })
		}))
	}
}

func (e *Engine) remember(item Item) {
	if e.seen[item.ID] {
		return
	}
	e.seen[item.ID] = true
	e.history = append(e.history, item)
}

// spawn measures an item, places it, and schedules its completion.
func (e *Engine) spawn(item Item) {
	if _, ok := e.onScreen[item.ID]; ok {
		return
	}

	speed := item.Speed
	if speed <= 0 {
		speed = 100
	}

	var placement Placement
	if item.Mode == ModeCenter {
		span := e.cfg.ViewportHeight - e.cfg.LaneHeight
		if span < 1 {
			span = 1
		}
		placement = Placement{
			Item:     item,
			Lane:     -1,
			Y:        e.rand.Float64() * span,
			Duration: e.cfg.CenterDwell,
		}
	} else {
		width := e.surface.Measure(item)
		duration := time.Duration((e.cfg.ViewportWidth + width) / float64(speed) * float64(time.Second))
		if duration < e.cfg.MinDuration {
			duration = e.cfg.MinDuration
		}
		lane := e.lanes.acquire(duration)
		jitter := e.rand.Float64() * (e.cfg.LaneHeight / 4)
		placement = Placement{
			Item:     item,
			Lane:     lane,
			Y:        float64(lane)*e.cfg.LaneHeight + jitter,
			Duration: duration,
		}
	}

	e.surface.Show(placement)
	e.onScreen[item.ID] = placement.Lane

	id := item.ID
	e.timers[id] = e.afterFunc(placement.Duration, func() {
		e.post(func() { e.complete(id) })
	})
}

// complete ends an item's playback and frees its lane.
func (e *Engine) complete(id int64) {
	lane, ok := e.onScreen[id]
	if !ok {
		return
	}
	e.surface.Remove(id)
	if lane >= 0 {
		e.lanes.release(lane)
	}
	delete(e.onScreen, id)
	delete(e.timers, id)
}

// replayOne respawns one random historical item when the wall is
// quiet. The cursor is never touched here.
func (e *Engine) replayOne() {
	if !e.burstDone || len(e.onScreen) >= e.cfg.LowTraffic || len(e.history) == 0 {
		return
	}

	candidates := make([]Item, 0, len(e.history))
	for _, item := range e.history {
		if _, ok := e.onScreen[item.ID]; !ok {
			candidates = append(candidates, item)
		}
	}
	if len(candidates) == 0 {
		return
	}
	e.spawn(candidates[e.rand.Intn(len(candidates))])
}

func (e *Engine) teardown() {
	close(e.done)
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	for _, timer := range e.pending {
		timer.Stop()
	}
	e.pending = nil
	for id, lane := range e.onScreen {
		if lane >= 0 {
			e.lanes.release(lane)
		}
		delete(e.onScreen, id)
	}
}
