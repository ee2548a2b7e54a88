package mail

// recentRange returns the inclusive sequence-number range covering the
// limit most recent of total messages. ok is false when there is nothing
// to fetch.
func recentRange(total, limit uint32) (start, end uint32, ok bool) {
	if total == 0 || limit == 0 {
		return 0, 0, false
	}
	start = 1
	if total > limit {
		start = total - limit + 1
	}
	return start, total, true
}
