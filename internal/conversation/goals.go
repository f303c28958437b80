package conversation

// SelectCurrent returns the id of the first goal that is not yet
// completed. The second return is false when every goal is completed or
// the list is empty.
func SelectCurrent(goals []Goal) (string, bool) {
	for _, g := range goals {
		if !g.Completed {
			return g.ID, true
		}
	}
	return "", false
}

// AllCompleted reports whether the goal list is non-empty and every
// goal is completed. An empty list never counts as completed — a
// session with no goals stays open indefinitely.
func AllCompleted(goals []Goal) bool {
	if len(goals) == 0 {
		return false
	}
	for _, g := range goals {
		if !g.Completed {
			return false
		}
	}
	return true
}
