package model

// statusTransitions is the table of legal task status edges.
var statusTransitions = map[Status][]Status{
	StatusCreated:          {StatusAssigned, StatusInProgress, StatusBlocked},
	StatusAssigned:         {StatusInProgress, StatusCreated, StatusBlocked, StatusFailed},
	StatusInProgress:       {StatusReview, StatusDone, StatusFailed, StatusAssigned, StatusCreated, StatusBlocked},
	StatusReview:           {StatusDone, StatusChangesRequested, StatusInProgress, StatusFailed},
	StatusChangesRequested: {StatusAssigned, StatusInProgress, StatusCreated},
	StatusBlocked:          {StatusCreated, StatusAssigned, StatusInProgress, StatusFailed},
	StatusFailed:           {StatusCreated, StatusAssigned, StatusInProgress},
	StatusDone:             {},
}

// ValidNextStatuses returns the statuses reachable from the given status.
func ValidNextStatuses(from Status) []Status {
	return statusTransitions[from]
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsValidStatus reports whether s is a known status.
func IsValidStatus(s Status) bool {
	_, ok := statusTransitions[s]
	return ok
}

// IsTerminalSuccess reports whether the status ends a task successfully.
func IsTerminalSuccess(s Status) bool {
	return s == StatusDone
}

// IsSettled reports whether a subtask counts as finished for parent aggregation.
func IsSettled(s Status) bool {
	return s == StatusDone || s == StatusReview
}
