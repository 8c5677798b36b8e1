package engine

import "log"

// Ledger records job lifecycle milestones.
type Ledger interface {
	RecordJobStart(name string) error
	SetJobAssets(name string, weightGrams *float64, thumbnailPath string) error
	MarkJobComplete(name string) error
}

// AttachLedger wires job events into a ledger:
// JobChanged → start row, AssetsFetched → weight/thumbnail, JobCompleted → completion.
func (e *Engine) AttachLedger(l Ledger) {
	e.Events.SubscribeTypes(func(evt Event) {
		changed := evt.Payload.(JobChangedEvent)
		if err := l.RecordJobStart(changed.Job); err != nil {
			log.Printf("ledger: record job %q: %v", changed.Job, err)
		}
	}, EventJobChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		res := evt.Payload.(AssetsFetchedEvent)
		if res.WeightGrams == nil && res.ThumbnailPath == "" {
			return
		}
		if err := l.SetJobAssets(res.Job, res.WeightGrams, res.ThumbnailPath); err != nil {
			log.Printf("ledger: job %q assets: %v", res.Job, err)
		}
	}, EventAssetsFetched)

	e.Events.SubscribeTypes(func(evt Event) {
		done := evt.Payload.(JobCompletedEvent)
		if err := l.MarkJobComplete(done.Job); err != nil {
			log.Printf("ledger: complete job %q: %v", done.Job, err)
		}
	}, EventJobCompleted)

	e.debugFn("engine: ledger attached")
}
