package session

// State is the recognition/playback state of one client
type State int

const (
	Idle State = iota
	Recording
	Playing
	RecordingPausedForPlayback
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Playing:
		return "playing"
	case RecordingPausedForPlayback:
		return "recording_paused_for_playback"
	}
	return "unknown"
}

// Trigger drives a state transition
type Trigger int

const (
	TriggerMicClick Trigger = iota
	TriggerPlaybackStart
	TriggerPlaybackDrained
	TriggerResume
	TriggerRecognizerStopped
)

func (t Trigger) String() string {
	switch t {
	case TriggerMicClick:
		return "mic_click"
	case TriggerPlaybackStart:
		return "playback_start"
	case TriggerPlaybackDrained:
		return "playback_drained"
	case TriggerResume:
		return "resume"
	case TriggerRecognizerStopped:
		return "recognizer_stopped"
	}
	return "unknown"
}

// transitions lists every legal move. Pairs not listed leave the state
// unchanged.
var transitions = map[State]map[Trigger]State{
	Idle: {
		TriggerMicClick:      Recording,
		TriggerPlaybackStart: Playing,
	},
	Recording: {
		TriggerMicClick:          Idle,
		TriggerPlaybackStart:     RecordingPausedForPlayback,
		TriggerRecognizerStopped: Idle,
	},
	Playing: {
		TriggerMicClick:        Recording,
		TriggerPlaybackStart:   Playing,
		TriggerPlaybackDrained: Idle,
	},
	RecordingPausedForPlayback: {
		TriggerMicClick:      Recording,
		TriggerPlaybackStart: RecordingPausedForPlayback,
		TriggerResume:        Recording,
	},
}

// Next returns the state reached from s on t and whether the pair is a
// listed transition
func Next(s State, t Trigger) (State, bool) {
	next, ok := transitions[s][t]
	if !ok {
		return s, false
	}
	return next, true
}
