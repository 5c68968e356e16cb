package heartbeat

import (
	"context"

	"github.com/finos-labs/fdc3agent/internal/channel"
	"github.com/finos-labs/fdc3agent/internal/directory"
	"github.com/finos-labs/fdc3agent/internal/eventlistener"
	"github.com/finos-labs/fdc3agent/internal/intent"
	"github.com/finos-labs/fdc3agent/internal/message"
)

// BuildCleanup wires the six steps of §4.7's cleanupDisconnectedProxy
// across the channel engine, intent engine, event-listener registry,
// and directory — in that order, so the directory's InstanceRecord
// survives long enough for the earlier steps to still resolve the
// instance's owned state before it disappears.
func BuildCleanup(channels *channel.Engine, intents *intent.Engine, eventListeners *eventlistener.Registry, dir *directory.Directory) CleanupFunc {
	return func(ctx context.Context, instance message.AppID) {
		channels.RemoveInstance(ctx, instance)
		intents.RemoveInstance(instance)
		eventListeners.RemoveBySource(instance)
		dir.RemoveInstance(instance.InstanceID)
	}
}
