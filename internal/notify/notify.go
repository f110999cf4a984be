// Package notify pushes short operator messages through shoutrrr service
// URLs (ntfy, Telegram, Slack, SMTP and the rest shoutrrr supports).
package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/reconcile"
	"github.com/philipwilson/trees/internal/transfer"
)

// Event kinds
const (
	EventImport    = "import"
	EventQueueDrop = "queue-drop"
)

// Message is one notification.
type Message struct {
	Event string
	Title string
	Body  string
}

// sender is the part of the shoutrrr router used here.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier delivers messages in the background so callers never block on
// a slow service.
type Notifier struct {
	sender sender
	events map[string]bool
	urls   []string
	log    logger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New builds a Notifier from settings. It returns nil, nil when
// notifications are disabled; a nil *Notifier drops every message.
func New(settings *conf.NotifySettings, lg logger.Logger) (*Notifier, error) {
	if settings == nil || !settings.Enabled {
		return nil, nil
	}
	router, err := shoutrrr.CreateSender(settings.URLs...)
	if err != nil {
		return nil, errors.New(redact(err, settings.URLs)).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Timeout > 0 {
		router.Timeout = settings.Timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))
	return newNotifier(router, settings.URLs, settings.Events, lg), nil
}

func newNotifier(s sender, urls, events []string, lg logger.Logger) *Notifier {
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	n := &Notifier{sender: s, urls: slices.Clone(urls), log: lg.Module("notify")}
	if len(events) > 0 {
		n.events = make(map[string]bool, len(events))
		for _, e := range events {
			n.events[e] = true
		}
	}
	return n
}

func (n *Notifier) wants(event string) bool {
	return n.events == nil || n.events[event]
}

// Notify queues msg for delivery.
func (n *Notifier) Notify(msg Message) {
	if n == nil || !n.wants(msg.Event) {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.send(msg); err != nil {
			n.log.Warn("notification failed",
				logger.String("event", msg.Event),
				logger.Error(err))
		}
	}()
}

func (n *Notifier) send(msg Message) error {
	params := stypes.Params{}
	if msg.Title != "" {
		params.SetTitle(msg.Title)
	}
	for _, err := range n.sender.Send(msg.Body, &params) {
		if err != nil {
			return redact(err, n.urls)
		}
	}
	return nil
}

// Close waits until ctx ends for queued messages and refuses new ones.
func (n *Notifier) Close(ctx context.Context) error {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ImportFinished reports an inbox import.
func (n *Notifier) ImportFinished(path string, summary *reconcile.Summary, err error) {
	if err != nil {
		n.Notify(Message{
			Event: EventImport,
			Title: "treetrack import failed",
			Body:  fmt.Sprintf("%s: %v", path, err),
		})
		return
	}
	n.Notify(Message{
		Event: EventImport,
		Title: "treetrack import finished",
		Body: fmt.Sprintf("%s: %d imported, %d skipped, %d remapped, %d photos",
			path, summary.Imported, summary.Skipped, summary.Remapped, summary.PhotosImported),
	})
}

// QueueDropped reports records evicted from a full pending queue.
func (n *Notifier) QueueDropped(dropped []transfer.TransferRecord) {
	if len(dropped) == 0 {
		return
	}
	oldest := dropped[0].CreatedAt
	n.Notify(Message{
		Event: EventQueueDrop,
		Title: "treetrack pending queue full",
		Body: fmt.Sprintf("%d undelivered record(s) dropped, oldest captured %s",
			len(dropped), oldest.Format(time.RFC3339)),
	})
}

// redact removes configured service URLs, which carry tokens, from err.
func redact(err error, urls []string) error {
	msg := err.Error()
	for _, raw := range urls {
		scheme := "service"
		if u, perr := url.Parse(raw); perr == nil && u.Scheme != "" {
			scheme = u.Scheme
		}
		msg = strings.ReplaceAll(msg, raw, scheme+"://[redacted]")
	}
	if msg == err.Error() {
		return err
	}
	return errors.NewStd(msg)
}
