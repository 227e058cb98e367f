package domain

// EventQueue carries host events to the dispatch workers.
type EventQueue interface {
	Publish(ev HostEvent) bool
	Subscribe() <-chan HostEvent
	Close()
}
