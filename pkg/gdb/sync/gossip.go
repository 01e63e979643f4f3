package sync

import (
	"context"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/sirupsen/logrus"
)

// AnnounceTopic is the pubsub topic peers gossip "this group has new
// pending records" notifications on, scoped by network name.
func AnnounceTopic(netName string) string {
	return "corenet/gdb-announce/" + netName
}

// Announcer gossips a lightweight notification whenever a LogList
// produces new packets for a group, letting peers with an open
// subscription sync eagerly instead of waiting for their next poll. A
// nil *Announcer is valid and every method on it is a no-op, so callers
// that never configure gossip don't need a conditional at every call
// site.
type Announcer struct {
	topic *pubsub.Topic
	log   *logrus.Logger
}

// NewAnnouncer joins netName's announce topic on ps.
func NewAnnouncer(ps *pubsub.PubSub, netName string, log *logrus.Logger) (*Announcer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	topic, err := ps.Join(AnnounceTopic(netName))
	if err != nil {
		return nil, err
	}
	return &Announcer{topic: topic, log: log}, nil
}

// Announce publishes group as having new pending records.
func (a *Announcer) Announce(ctx context.Context, group string) {
	if a == nil || a.topic == nil {
		return
	}
	if err := a.topic.Publish(ctx, []byte(group)); err != nil {
		a.log.WithError(err).Warn("sync: gossip announce publish failed")
	}
}

// Close leaves the announce topic.
func (a *Announcer) Close() error {
	if a == nil || a.topic == nil {
		return nil
	}
	return a.topic.Close()
}
