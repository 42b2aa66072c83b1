package library

// ProgressListener receives progress updates from batch operations.
type ProgressListener func(event ProgressEvent)

// EventType represents the type of progress event
type EventType string

// EventType constants
const (
	EventIngestStart       EventType = "ingest_start"
	EventCandidateStored   EventType = "candidate_stored"
	EventCandidateDup      EventType = "candidate_duplicate"
	EventCandidateFailed   EventType = "candidate_failed"
	EventIngestComplete    EventType = "ingest_complete"
	EventIngestStopped     EventType = "ingest_stopped"
	EventRescoreComplete   EventType = "rescore_complete"
	EventAnalysisCacheHit  EventType = "analysis_cached"
	EventAnalysisComputed  EventType = "analysis_computed"
	EventSolveFromLibrary  EventType = "solve_library"
	EventSolveFromGenerate EventType = "solve_generate"
)

// ProgressEvent represents a progress update
type ProgressEvent struct {
	EventType   EventType
	Fingerprint string
	SolutionID  string
	Index       int
	Total       int
	Score       float64
	DurationMs  int64
	Err         error
}

// OnProgress registers a progress listener.
func (l *Library) OnProgress(listener ProgressListener) {
	l.progressMu.Lock()
	defer l.progressMu.Unlock()
	l.listeners = append(l.listeners, listener)
}

func (l *Library) notifyProgress(event ProgressEvent) {
	l.progressMu.Lock()
	listeners := make([]ProgressListener, len(l.listeners))
	copy(listeners, l.listeners)
	l.progressMu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}
