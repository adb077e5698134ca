package batch

// rangeGroup is a run of entries whose content can be fetched with one read.
type rangeGroup struct {
	start   int64
	end     int64
	entries []*Entry
}

func (g rangeGroup) size() int64 {
	return g.end - g.start
}

// groupNearbyEntries groups entries whose content lies close together.
//
// Entries must be sorted by DataOffset. In a pack, consecutive files are
// separated by their record headers, so an entry joins the current group
// when the gap before it is at most maxGap and the group stays within
// maxBytes. A single entry larger than maxBytes forms its own group.
//
// The entries slice must be non-empty.
func groupNearbyEntries(entries []*Entry, maxGap, maxBytes int64) []rangeGroup {
	groups := make([]rangeGroup, 0, len(entries))
	current := rangeGroup{
		start:   entries[0].DataOffset,
		end:     entries[0].DataOffset + entries[0].DataLength,
		entries: []*Entry{entries[0]},
	}

	for _, entry := range entries[1:] {
		entryEnd := entry.DataOffset + entry.DataLength
		gap := entry.DataOffset - current.end
		if gap >= 0 && gap <= maxGap && entryEnd-current.start <= maxBytes {
			current.end = max(current.end, entryEnd)
			current.entries = append(current.entries, entry)
			continue
		}
		groups = append(groups, current)
		current = rangeGroup{
			start:   entry.DataOffset,
			end:     entryEnd,
			entries: []*Entry{entry},
		}
	}
	return append(groups, current)
}
