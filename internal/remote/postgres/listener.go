package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pq "github.com/lib/pq"

	"github.com/julianstephens/habitkeep/internal/constants"
	"github.com/julianstephens/habitkeep/internal/logger"
	"github.com/julianstephens/habitkeep/internal/remote"
)

const listenerPingInterval = 90 * time.Second

type listenerSubscription struct {
	listener *pq.Listener
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// SubscribeToChanges listens on the change channel and calls fn for every
// event of userID. After a reconnect fn receives an event with an empty ID,
// since notifications sent while disconnected are lost.
func (c *Client) SubscribeToChanges(ctx context.Context, userID string, fn func(remote.ChangeEvent)) (remote.Subscription, error) {
	listener := pq.NewListener(c.connStr, constants.ListenerMinReconnect, constants.ListenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("remote change listener", "event", ev, "error", err)
			}
		})
	if err := listener.Listen(constants.RemoteChangeChannel); err != nil {
		listener.Close()
		return nil, classify(fmt.Errorf("listen on %s: %w", constants.RemoteChangeChannel, err))
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &listenerSubscription{listener: listener, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		ticker := time.NewTicker(listenerPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				if n == nil {
					// reconnected
					fn(remote.ChangeEvent{UserID: userID})
					continue
				}
				var ev remote.ChangeEvent
				if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
					logger.Warn("ignoring malformed change notification", "payload", n.Extra, "error", err)
					continue
				}
				if ev.UserID == userID {
					fn(ev)
				}
			case <-ticker.C:
				go func() {
					if err := listener.Ping(); err != nil {
						logger.Debug("remote change listener ping failed", "error", err)
					}
				}()
			}
		}
	}()

	return sub, nil
}

func (s *listenerSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.listener.Close()
		<-s.done
	})
	return err
}
