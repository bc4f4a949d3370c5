package base

// MergeMode decides how a payload updates the records a subscriber holds
type MergeMode int

const (
	// ModeReplace swaps the whole set. Poll responses are full snapshots.
	ModeReplace MergeMode = iota
	// ModeMergeByID updates records with a matching id and appends the rest.
	ModeMergeByID
)

func (m MergeMode) String() string {
	if m == ModeMergeByID {
		return "merge-by-id"
	}
	return "replace"
}

// Snapshot is the last-known-good record set of one subscription.
// It is not safe for concurrent use.
type Snapshot struct {
	mode    MergeMode
	records []Record
	index   map[string]int
}

func NewSnapshot(mode MergeMode) *Snapshot {
	return &Snapshot{mode: mode, index: make(map[string]int)}
}

func (s *Snapshot) Mode() MergeMode {
	return s.mode
}

// Apply folds incoming into the snapshot and returns the resulting versions
// of the records that were touched.
func (s *Snapshot) Apply(incoming []Record) []Record {
	if s.mode == ModeReplace {
		return s.Replace(incoming)
	}
	return s.merge(incoming)
}

func (s *Snapshot) merge(incoming []Record) []Record {
	changed := make([]Record, 0, len(incoming))
	for _, rec := range incoming {
		id := rec.ID()
		if pos, ok := s.index[id]; ok {
			merged := s.records[pos].Clone()
			for k, v := range rec {
				merged[k] = v
			}
			s.records[pos] = applyDefaults(merged)
			changed = append(changed, s.records[pos].Clone())
			continue
		}

		fresh := applyDefaults(rec.Clone())
		s.index[id] = len(s.records)
		s.records = append(s.records, fresh)
		changed = append(changed, fresh.Clone())
	}

	return changed
}

// Replace swaps the whole set for incoming regardless of mode
func (s *Snapshot) Replace(incoming []Record) []Record {
	s.records = s.records[:0]
	s.index = make(map[string]int, len(incoming))
	return s.merge(incoming)
}

// Records returns a copy of the current set in first-seen order
func (s *Snapshot) Records() []Record {
	out := make([]Record, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Clone()
	}
	return out
}

func (s *Snapshot) Len() int {
	return len(s.records)
}

// MergeByID returns existing updated with incoming: a record with a matching
// id has its fields overwritten, any other record is appended.
func MergeByID(existing, incoming []Record) []Record {
	snap := NewSnapshot(ModeMergeByID)
	snap.Apply(existing)
	snap.Apply(incoming)
	return snap.Records()
}
