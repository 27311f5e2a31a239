package presence

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/spoticord/pkg/logging"
)

// DefaultInterval is how often the presence is re-sent.
const DefaultInterval = 5 * time.Minute

// StatusUpdater sets the bot's status. *discordgo.Session satisfies it.
type StatusUpdater interface {
	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
}

// PresenceManager manages the bot's presence
type PresenceManager struct {
	updater  StatusUpdater
	prefix   string
	interval time.Duration
	log      logging.Logger

	mu      sync.Mutex
	updates int
}

// NewPresenceManager creates a new presence manager
func NewPresenceManager(updater StatusUpdater, prefix string, log logging.Logger) *PresenceManager {
	return &PresenceManager{
		updater:  updater,
		prefix:   prefix,
		interval: DefaultInterval,
		log:      log.With(logging.Component("presence")),
	}
}

// Status is the presence advertised while the bot is operational.
func (pm *PresenceManager) Status() discordgo.UpdateStatusData {
	return discordgo.UpdateStatusData{
		Status: string(discordgo.StatusOnline),
		Activities: []*discordgo.Activity{
			{
				Name: pm.prefix + "help",
				Type: discordgo.ActivityTypeListening,
			},
		},
	}
}

// UpdateDefaultPresence sends "Listening to <prefix>help".
func (pm *PresenceManager) UpdateDefaultPresence() error {
	if err := pm.updater.UpdateStatusComplex(pm.Status()); err != nil {
		pm.log.Warn("failed to update presence", logging.Error(err))
		return err
	}
	pm.mu.Lock()
	pm.updates++
	pm.mu.Unlock()
	return nil
}

// Updates returns how many presence updates succeeded.
func (pm *PresenceManager) Updates() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.updates
}

// StartPeriodicUpdates sets the presence now and refreshes it until ctx ends.
func (pm *PresenceManager) StartPeriodicUpdates(ctx context.Context) {
	pm.UpdateDefaultPresence()

	go func() {
		ticker := time.NewTicker(pm.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pm.UpdateDefaultPresence()
			}
		}
	}()
}
