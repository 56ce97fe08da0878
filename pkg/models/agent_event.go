package models

// AgentEventName identifies an event emitted by the agent run loop.
type AgentEventName string

const (
	// AgentEventRunFinished is emitted exactly once per run that terminates
	// through the loop (aborts, retry exhaustion, step limits, and natural
	// completion all emit it; see RunFinished.OK).
	AgentEventRunFinished AgentEventName = "runFinished"
	// AgentEventEmaReplyReceived is emitted when the reply tool succeeds.
	AgentEventEmaReplyReceived AgentEventName = "emaReplyReceived"
)

// RunFinished is the payload of a runFinished event.
type RunFinished struct {
	OK    bool   `json:"ok"`
	Msg   string `json:"msg"`
	Error string `json:"error,omitempty"`
}

// EmaReply is the structured user-visible reply produced by the ema_reply
// tool. Expression and Action are validated against configured allowed sets.
type EmaReply struct {
	Think      string `json:"think"`
	Expression string `json:"expression"`
	Action     string `json:"action"`
	Response   string `json:"response"`
}

// EmaReplyReceived is the payload of an emaReplyReceived event.
type EmaReplyReceived struct {
	Reply EmaReply `json:"reply"`
}

// AgentEvent is the tagged union of agent run loop events. Exactly one of
// the payload pointers is set, matching Name.
type AgentEvent struct {
	Name        AgentEventName    `json:"name"`
	RunFinished *RunFinished      `json:"run_finished,omitempty"`
	Reply       *EmaReplyReceived `json:"reply,omitempty"`
}

// RunFinishedEvent builds a runFinished AgentEvent.
func RunFinishedEvent(ok bool, msg, errMsg string) AgentEvent {
	return AgentEvent{
		Name:        AgentEventRunFinished,
		RunFinished: &RunFinished{OK: ok, Msg: msg, Error: errMsg},
	}
}

// EmaReplyEvent builds an emaReplyReceived AgentEvent.
func EmaReplyEvent(reply EmaReply) AgentEvent {
	return AgentEvent{
		Name:  AgentEventEmaReplyReceived,
		Reply: &EmaReplyReceived{Reply: reply},
	}
}

// ActorEventKind identifies an event published by an actor worker.
type ActorEventKind string

const (
	// ActorEventMessage carries a human-readable status note.
	ActorEventMessage ActorEventKind = "message"
	// ActorEventAgent forwards an agent run loop event.
	ActorEventAgent ActorEventKind = "agent"
)

// ActorEvent is the tagged union of actor worker events.
type ActorEvent struct {
	Kind    ActorEventKind `json:"kind"`
	Content string         `json:"content,omitempty"`
	Agent   *AgentEvent    `json:"agent,omitempty"`
}

// StatusNote builds a message-kind ActorEvent.
func StatusNote(content string) ActorEvent {
	return ActorEvent{Kind: ActorEventMessage, Content: content}
}

// ForwardedAgentEvent wraps an agent event for actor-level publication.
func ForwardedAgentEvent(ev AgentEvent) ActorEvent {
	return ActorEvent{Kind: ActorEventAgent, Agent: &ev}
}
