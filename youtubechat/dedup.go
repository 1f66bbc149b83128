package youtubechat

// dedupSet remembers recently seen message ids up to a fixed capacity,
// evicting the oldest id first.
type dedupSet struct {
	cap   int
	seen  map[string]struct{}
	order []string
	head  int
}

func newDedupSet(capacity int) *dedupSet {
	return &dedupSet{cap: capacity, seen: make(map[string]struct{}, capacity)}
}

// Seen records id and reports whether it was already present.
func (d *dedupSet) Seen(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	if len(d.order) < d.cap {
		d.order = append(d.order, id)
		return false
	}
	oldest := d.order[d.head]
	delete(d.seen, oldest)
	d.order[d.head] = id
	d.head = (d.head + 1) % d.cap
	return false
}
