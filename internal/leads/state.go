package leads

// State is a conversation lifecycle state.
type State string

const (
	StateNew        State = "NEW"
	StateEngaged    State = "ENGAGED"
	StateQualifying State = "QUALIFYING"
	StateQualified  State = "QUALIFIED"
	StateNurturing  State = "NURTURING"
	StateHandoff    State = "HANDOFF"
	StateClosed     State = "CLOSED"
	StateDormant    State = "DORMANT"
	StateOptedOut   State = "OPTED_OUT"
)

// States lists every state.
var States = []State{StateNew, StateEngaged, StateQualifying, StateQualified, StateNurturing, StateHandoff, StateClosed, StateDormant, StateOptedOut}

// Terminal reports whether no automated transition may leave the state.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateOptedOut
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

func (s State) String() string { return string(s) }

// Direction of a history entry.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Channel a message travels over.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelEmail
}
