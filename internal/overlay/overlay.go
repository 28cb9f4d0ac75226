// Package overlay drives a barrage wall viewport: it pulls new items
// from the server, schedules them onto horizontal lanes, and replays
// old ones when traffic is low. All mutable state is owned by the
// Engine's run goroutine.
package overlay

import (
	"context"
	"time"
)

const (
	ModeRight  = "right"
	ModeLeft   = "left"
	ModeCenter = "center"
)

// Item is one barrage as pulled from the server.
type Item struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	Color     string `json:"color"`
	BgColor   string `json:"bgColor"`
	Mode      string `json:"mode"`
	Speed     int    `json:"speed"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

// Source supplies items newer than sinceID. sinceID 0 means the
// initial pull, which the server answers with its recent backlog.
type Source interface {
	Pull(ctx context.Context, sinceID int64) ([]Item, error)
}

// Placement tells a Surface where and for how long to show an item.
// Lane is -1 for center-mode items, which float free of the lane table.
type Placement struct {
	Item     Item
	Lane     int
	Y        float64
	Duration time.Duration
}

// Surface renders items. Measure reports the rendered width of an
// item; it is only called right before Show.
type Surface interface {
	Measure(item Item) float64
	Show(p Placement)
	Remove(id int64)
}
