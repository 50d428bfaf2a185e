package room

// generationEvents binds connector callbacks to the join attempt that opened
// the connection. Once Leave (or a failed attempt) advances the session's
// generation, every callback becomes a no-op.
type generationEvents struct {
	s   *Session
	gen uint64
}

// locked runs fn under the session lock if the generation is still current.
func (e *generationEvents) locked(fn func()) bool {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if e.s.gen != e.gen {
		return false
	}
	fn()
	return true
}

func (e *generationEvents) participant(identity string) *remoteParticipant {
	p := e.s.remotes[identity]
	if p == nil {
		p = &remoteParticipant{tracks: make(map[string]*trackState)}
		e.s.remotes[identity] = p
	}
	return p
}

func (e *generationEvents) ParticipantJoined(identity, name string) {
	e.locked(func() {
		p := e.participant(identity)
		if name != "" {
			p.name = name
		}
	})
	e.s.logger.Debug("participant joined", "identity", identity)
}

func (e *generationEvents) ParticipantLeft(identity string) {
	var detach []string
	e.locked(func() {
		p := e.s.remotes[identity]
		if p == nil {
			return
		}
		for sid, ts := range p.tracks {
			if ts.attached {
				detach = append(detach, sid)
			}
		}
		delete(e.s.remotes, identity)
	})
	for _, sid := range detach {
		e.s.sink.Detach(identity, sid)
	}
	e.s.logger.Debug("participant left", "identity", identity)
}

// TrackPublished records a remote track and subscribes to it if it carries
// audio. Attachment waits for TrackSubscribed.
func (e *generationEvents) TrackPublished(identity string, track RemoteTrack) {
	if track == nil {
		return
	}
	kind := track.Kind()
	ok := e.locked(func() {
		p := e.participant(identity)
		if _, exists := p.tracks[track.SID()]; !exists {
			p.tracks[track.SID()] = &trackState{track: track, kind: kind}
		}
	})
	if !ok || kind != TrackAudio {
		return
	}
	if err := track.SetSubscribed(true); err != nil {
		e.s.logger.Warn("track subscribe failed", "identity", identity, "track", track.SID(), "error", err)
	}
}

func (e *generationEvents) TrackSubscribed(identity string, track RemoteTrack) {
	if track == nil {
		return
	}
	sid := track.SID()
	shouldAttach := false
	e.locked(func() {
		p := e.participant(identity)
		ts := p.tracks[sid]
		if ts == nil {
			ts = &trackState{track: track, kind: track.Kind()}
			p.tracks[sid] = ts
		}
		ts.subscribed = true
		shouldAttach = ts.kind == TrackAudio && !ts.attached
	})
	if !shouldAttach {
		return
	}

	if err := e.s.sink.Attach(identity, track); err != nil {
		e.s.logger.Warn("track attach failed", "identity", identity, "track", sid, "error", err)
		return
	}
	attached := e.locked(func() {
		if p := e.s.remotes[identity]; p != nil {
			if ts := p.tracks[sid]; ts != nil && ts.subscribed {
				ts.attached = true
				return
			}
		}
		shouldAttach = false
	})
	// The track went away (or the session ended) while attaching.
	if !attached || !shouldAttach {
		e.s.sink.Detach(identity, sid)
	}
}

func (e *generationEvents) TrackUnsubscribed(identity, sid string) {
	detach := false
	e.locked(func() {
		if p := e.s.remotes[identity]; p != nil {
			if ts := p.tracks[sid]; ts != nil {
				detach = ts.attached
				ts.subscribed = false
				ts.attached = false
			}
		}
	})
	if detach {
		e.s.sink.Detach(identity, sid)
	}
}

func (e *generationEvents) TrackUnpublished(identity, sid string) {
	detach := false
	e.locked(func() {
		if p := e.s.remotes[identity]; p != nil {
			if ts := p.tracks[sid]; ts != nil {
				detach = ts.attached
				delete(p.tracks, sid)
			}
		}
	})
	if detach {
		e.s.sink.Detach(identity, sid)
	}
}

// Disconnected handles a transport-initiated disconnect.
func (e *generationEvents) Disconnected(reason error) {
	if e.s.stale(e.gen) {
		return
	}
	if reason != nil {
		e.s.logger.Warn("room connection lost", "error", reason)
	}
	e.s.teardown("remote")
}
