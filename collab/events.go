package collab

// Status is the session lifecycle state:
// init -> loaded -> active -> exit, with error reachable from any state.
// Error is sticky until a fresh Connect call. Exit is terminal.
type Status string

const (
	StatusInit Status = "init"
	// reserved state, not entered by this package
	StatusLoaded Status = "loaded"
	StatusActive Status = "active"
	StatusExit   Status = "exit"
	StatusError  Status = "error"
)

type StatusChangeFunction func(from Status, to Status)

type ErrorFunction func(clientError *ClientError)

// receives the normalized, color-annotated roster snapshot
type MembersChangeFunction func(members []*Participant)

type MessageFunction func(message *Message)

// fired at most once per connection, after a successful sync bootstrap,
// with the current participant
type ReadyFunction func(participant *Participant)

// fired on host visibility loss
type InactiveFunction func()
