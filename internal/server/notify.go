package server

import (
	"context"
	"time"

	"github.com/cwbudde/govizier/internal/metrics"
	"github.com/cwbudde/govizier/internal/store"
	"github.com/cwbudde/govizier/internal/study"
)

// notifyingStore publishes trial mutations to a broadcaster after the wrapped
// store accepted them.
type notifyingStore struct {
	store.Store
	broadcaster *EventBroadcaster
}

func newNotifyingStore(st store.Store, b *EventBroadcaster) *notifyingStore {
	return &notifyingStore{Store: st, broadcaster: b}
}

func (n *notifyingStore) publish(guid string, kind EventKind, t study.Trial) {
	n.broadcaster.Broadcast(TrialEvent{
		StudyGUID: guid,
		Kind:      kind,
		Trial:     t,
		Timestamp: time.Now(),
	})
}

func (n *notifyingStore) AddTrials(ctx context.Context, guid string, trials []study.Trial) ([]study.Trial, error) {
	added, err := n.Store.AddTrials(ctx, guid, trials)
	if err != nil {
		return nil, err
	}
	metrics.TrialsAdded.Add(float64(len(added)))
	for _, t := range added {
		n.publish(guid, EventAdded, t.Clone())
	}
	return added, nil
}

func (n *notifyingStore) CompleteTrial(ctx context.Context, guid string, id int, m study.Measurement) (study.Trial, error) {
	t, err := n.Store.CompleteTrial(ctx, guid, id, m)
	if err != nil {
		return study.Trial{}, err
	}
	n.publish(guid, EventCompleted, t.Clone())
	return t, nil
}

func (n *notifyingStore) StopTrial(ctx context.Context, guid string, id int) (study.Trial, error) {
	t, err := n.Store.StopTrial(ctx, guid, id)
	if err != nil {
		return study.Trial{}, err
	}
	n.publish(guid, EventStopped, t.Clone())
	return t, nil
}
