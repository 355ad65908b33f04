package planner

// Event is a progress notification published on the run's topic.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

const (
	EventRunStarted      = "run.started"
	EventRunProgress     = "run.progress"
	EventRunFinished     = "run.finished"
	EventRunFailed       = "run.failed"
	EventSolutionUpdated = "solution.updated"
)

// Publisher fans events out to subscribers of a topic (a run id).
type Publisher interface {
	Publish(topic string, evt Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, Event) {}
