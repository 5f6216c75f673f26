package monitor

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// AddWatcher registers to receive a snapshot after every frame
func (e *Engine) AddWatcher() chan *Snapshot {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	ch := make(chan *Snapshot, WatcherChannelSize)
	e.watchers = append(e.watchers, ch)
	return ch
}

// RemoveWatcher unregisters a snapshot watcher. The channel is not closed.
func (e *Engine) RemoveWatcher(ch chan *Snapshot) {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	for i, w := range e.watchers {
		if w == ch {
			e.watchers = append(e.watchers[:i], e.watchers[i+1:]...)
			return
		}
	}
	e.Log.Warnf("Engine.RemoveWatcher failed to find channel")
}

// AddEventWatcher registers to receive every DetectionEvent
func (e *Engine) AddEventWatcher() chan DetectionEvent {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	ch := make(chan DetectionEvent, WatcherChannelSize)
	e.eventWatchers = append(e.eventWatchers, ch)
	return ch
}

// RemoveEventWatcher unregisters an event watcher. The channel is not closed.
func (e *Engine) RemoveEventWatcher(ch chan DetectionEvent) {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	for i, w := range e.eventWatchers {
		if w == ch {
			e.eventWatchers = append(e.eventWatchers[:i], e.eventWatchers[i+1:]...)
			return
		}
	}
	e.Log.Warnf("Engine.RemoveEventWatcher failed to find channel")
}

// The frame loop must never stall on a slow watcher, so a watcher that falls
// behind loses snapshots instead.
func (e *Engine) sendToWatchers(s *Snapshot, events []DetectionEvent) {
	e.watchersLock.RLock()
	defer e.watchersLock.RUnlock()
	for _, ch := range e.watchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			e.Log.Warnf("Snapshot watcher is falling behind. Dropping frame %v", s.FrameIndex)
		} else {
			ch <- s
		}
	}
	for _, ev := range events {
		for _, ch := range e.eventWatchers {
			if len(ch) >= cap(ch)*9/10 {
				e.Log.Warnf("Event watcher is falling behind. Dropping event for track %v", ev.TrackID)
			} else {
				ch <- ev
			}
		}
	}
}
