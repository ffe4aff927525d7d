package store

// legalNext is the run state graph. The only back-edge is the bounded
// revision loop validating -> executing; everything else moves forward or
// terminates. Terminal states have no successors.
var legalNext = map[Status][]Status{
	StatusPending:          {StatusAnalyzing, StatusFailed, StatusCancelled, StatusTimeout},
	StatusAnalyzing:        {StatusAwaitingApproval, StatusFailed, StatusCancelled, StatusTimeout},
	StatusAwaitingApproval: {StatusApproved, StatusFailed, StatusCancelled, StatusTimeout},
	StatusApproved:         {StatusExecuting, StatusFailed, StatusCancelled, StatusTimeout},
	StatusExecuting:        {StatusValidating, StatusFailed, StatusCancelled, StatusTimeout},
	StatusValidating: {
		StatusExecuting, // revision loop
		StatusPatching, StatusCommitting, StatusCompleted,
		StatusFailed, StatusCancelled, StatusTimeout,
	},
	StatusPatching:   {StatusCommitting, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout},
	StatusCommitting: {StatusPushing, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout},
	StatusPushing:    {StatusPROpened, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout},
	StatusPROpened:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
	StatusTimeout:    {},
}

// LegalTransition reports whether from -> to is on the state graph.
// Self-transitions are not transitions and are rejected.
func LegalTransition(from, to Status) bool {
	for _, s := range legalNext[from] {
		if s == to {
			return true
		}
	}
	return false
}
