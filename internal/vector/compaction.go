package vector

// CompactionThresholds controls when Compact should be invoked. This
// package only exposes the decision (ShouldCompact) and the merge
// (Compact); it starts no background task, and neither runs on a timer.
type CompactionThresholds struct {
	MaxSealedSegments int
	TombstoneRatio    float64
}

// ShouldCompact reports whether the current generation has crossed either
// threshold.
func (s *Store) ShouldCompact(t CompactionThresholds) bool {
	gen := s.current.Load()
	if t.MaxSealedSegments > 0 && len(gen.sealed) >= t.MaxSealedSegments {
		return true
	}
	stats := s.Stats()
	if stats.NumVectors+stats.NumTombstoned == 0 {
		return false
	}
	ratio := float64(stats.NumTombstoned) / float64(stats.NumVectors+stats.NumTombstoned)
	return t.TombstoneRatio > 0 && ratio >= t.TombstoneRatio
}

// Compact merges all sealed segments into one, dropping tombstoned
// vectors, and publishes the result as a new generation. Compaction is
// atomic with respect to readers: a reader pinning the prior generation's
// pointer keeps seeing the full pre-compaction state until it reloads.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.current.Load()
	if len(gen.sealed) < 2 {
		return nil
	}

	merged := newSegment(s.nextSeg.Add(1), s.cfg.Dimension)
	merged.IsSealed = true
	for _, seg := range gen.sealed {
		seg.mu.RLock()
		for id, v := range seg.raw {
			if seg.tombstones[id] {
				continue
			}
			merged.raw[id] = v
			if md, ok := seg.metadata[id]; ok {
				merged.metadata[id] = md
			}
		}
		for id, c := range seg.codes {
			if seg.tombstones[id] {
				continue
			}
			if _, hasRaw := merged.raw[id]; !hasRaw {
				merged.codes[id] = c
			}
		}
		seg.mu.RUnlock()
	}

	next := &generation{
		sealed:  []*Segment{merged},
		open:    gen.open.clone(),
		trained: gen.trained,
	}
	s.publish(next)
	return nil
}
