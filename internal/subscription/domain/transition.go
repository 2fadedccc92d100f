package domain

// Trigger names who asks for a status change.
type Trigger string

const (
	// TriggerProcessor covers changes the payment processor reports.
	TriggerProcessor Trigger = "processor"
	// TriggerAdmin covers explicit cancel, pause and resume calls.
	TriggerAdmin Trigger = "admin"
	// TriggerReactivate is the only way back from canceled.
	TriggerReactivate Trigger = "reactivate"
)

var processorTransitions = map[Status][]Status{
	StatusIncomplete: {StatusActive, StatusTrialing, StatusCanceled},
	StatusTrialing:   {StatusActive, StatusPastDue, StatusCanceled},
	StatusActive:     {StatusPastDue, StatusCanceled},
	StatusPastDue:    {StatusActive, StatusCanceled, StatusUnpaid},
	StatusUnpaid:     {StatusActive, StatusCanceled},
	StatusPaused:     {StatusActive, StatusCanceled},
}

var adminTransitions = map[Status][]Status{
	StatusIncomplete: {StatusCanceled, StatusPaused},
	StatusTrialing:   {StatusCanceled, StatusPaused},
	StatusActive:     {StatusCanceled, StatusPaused},
	StatusPastDue:    {StatusCanceled, StatusPaused},
	StatusUnpaid:     {StatusCanceled, StatusPaused},
	StatusPaused:     {StatusActive, StatusTrialing, StatusPastDue, StatusUnpaid, StatusCanceled},
}

// CanTransition reports whether from -> to is allowed for trigger. Paused is
// reachable only by an admin, and canceled -> active only by reactivation.
func CanTransition(from, to Status, trigger Trigger) bool {
	if from == to {
		return true
	}

	var table map[Status][]Status
	switch trigger {
	case TriggerProcessor:
		table = processorTransitions
	case TriggerAdmin:
		table = adminTransitions
	case TriggerReactivate:
		return from == StatusCanceled && to == StatusActive
	default:
		return false
	}

	for _, allowed := range table[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
