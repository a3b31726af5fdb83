// Package notify pushes batch milestones to operators who are not
// watching the console. Delivery is best effort everywhere: a chat
// outage must never stop the batch.
package notify

// Notifier receives batch milestones.
type Notifier interface {
	GroupDone(group string, processed, skipped int)
	RunAborted(group, siren, reason string)
	BatchDone(groups int)
}

// Noop drops every notification.
type Noop struct{}

func (Noop) GroupDone(string, int, int)        {}
func (Noop) RunAborted(string, string, string) {}
func (Noop) BatchDone(int)                     {}

// Multi fans out each milestone to all configured sinks.
type Multi []Notifier

func (m Multi) GroupDone(group string, processed, skipped int) {
	for _, n := range m {
		n.GroupDone(group, processed, skipped)
	}
}

func (m Multi) RunAborted(group, siren, reason string) {
	for _, n := range m {
		n.RunAborted(group, siren, reason)
	}
}

func (m Multi) BatchDone(groups int) {
	for _, n := range m {
		n.BatchDone(groups)
	}
}
