package retrypolicy

// Condition is a coarse estimate of the network health during one operation.
type Condition string

const (
	// ConditionGood ...
	ConditionGood Condition = "good"
	// ConditionDegraded ...
	ConditionDegraded Condition = "degraded"
	// ConditionPoor ...
	ConditionPoor Condition = "poor"
	// ConditionOffline ...
	ConditionOffline Condition = "offline"
)

// ConnectivityChecker reports whether the host currently has network access.
// The check is owned by the caller; AlwaysOnline is used when no checker is available.
type ConnectivityChecker func() bool

// AlwaysOnline is the default ConnectivityChecker.
func AlwaysOnline() bool { return true }

// Estimate aggregates the error history of the current operation into a
// Condition. The window is whatever the caller accumulated; no fixed size is
// enforced here.
func Estimate(history []Category, online bool) Condition {
	if !online {
		return ConditionOffline
	}

	timeouts := 0
	temporaries := 0
	for _, category := range history {
		switch category {
		case CategoryTimeout:
			timeouts++
		case CategoryTemporary:
			temporaries++
		}
	}

	if timeouts >= 2 || temporaries >= 3 {
		return ConditionPoor
	}
	if timeouts == 1 || temporaries >= 1 {
		return ConditionDegraded
	}
	return ConditionGood
}
