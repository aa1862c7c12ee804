// Package notify turns push payloads into notifications and resolves
// notification clicks.
package notify

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	Title       = "ASTRA Update"
	DefaultBody = "New update from ASTRA!"

	ActionExplore = "explore"
	ActionDismiss = "dismiss"

	defaultLimit = 50
)

// ErrNotFound is returned when clicking an unknown notification.
var ErrNotFound = errors.New("notification not found")

// Action is a button shown on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon"`
}

// Notification is what a push displays.
type Notification struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Icon      string            `json:"icon"`
	Badge     string            `json:"badge"`
	Vibrate   []int             `json:"vibrate"`
	Data      map[string]string `json:"data"`
	Actions   []Action          `json:"actions"`
	CreatedAt time.Time         `json:"created_at"`
}

// ClickResult tells the caller whether to open a window.
type ClickResult struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	OpenURL   string `json:"open_url,omitempty"`
	Dismissed bool   `json:"dismissed"`
}

// Center keeps the most recent notifications in memory.
type Center struct {
	mu    sync.Mutex
	limit int
	items []Notification
	now   func() time.Time
}

// NewCenter keeps at most limit notifications; 0 means the default.
func NewCenter(limit int) *Center {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Center{limit: limit, now: func() time.Time { return time.Now().UTC() }}
}

// Push shows a notification for payload. An empty payload uses the default body.
func (c *Center) Push(payload string) Notification {
	body := payload
	if strings.TrimSpace(body) == "" {
		body = DefaultBody
	}
	n := Notification{
		ID:      uuid.NewString(),
		Title:   Title,
		Body:    body,
		Icon:    "/icon-192x192.png",
		Badge:   "/badge-72x72.png",
		Vibrate: []int{100, 50, 100},
		Data:    map[string]string{"url": "/"},
		Actions: []Action{
			{Action: ActionExplore, Title: "Explore", Icon: "/icon-explore.png"},
			{Action: ActionDismiss, Title: "Dismiss", Icon: "/icon-dismiss.png"},
		},
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, n)
	if overflow := len(c.items) - c.limit; overflow > 0 {
		c.items = append([]Notification(nil), c.items[overflow:]...)
	}
	return n
}

// List returns shown notifications, oldest first.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.items...)
}

// Click closes the notification. Only the explore action opens a window.
func (c *Center) Click(id, action string) (ClickResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, n := range c.items {
		if n.ID != id {
			continue
		}
		c.items = append(c.items[:i], c.items[i+1:]...)
		result := ClickResult{ID: id, Action: action, Dismissed: true}
		if action == ActionExplore {
			result.OpenURL = n.Data["url"]
		}
		return result, nil
	}
	return ClickResult{}, ErrNotFound
}
