package mysmtp

// StateMachine manages the protocol state of one session.
// It enforces command ordering: MAIL FROM only after HELO, RCPT TO only
// after MAIL FROM, DATA only with both a sender and a recipient.
type StateMachine struct {
	session  SessionState
	observer StateObserver
}

// StateObserver receives notifications of state transitions.
type StateObserver interface {
	// OnStateChange is called after a state transition.
	OnStateChange(transition StateTransition)
}

// NullStateObserver is a no-op StateObserver.
type NullStateObserver struct{}

func (NullStateObserver) OnStateChange(_ StateTransition) {}

// NewStateMachine creates a new state machine in the New state.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		observer: NullStateObserver{},
	}
}

// NewStateMachineWithObserver creates a state machine with an observer.
func NewStateMachineWithObserver(observer StateObserver) *StateMachine {
	sm := NewStateMachine()
	sm.SetObserver(observer)
	return sm
}

// State returns the current state.
func (sm *StateMachine) State() State {
	return sm.session.State()
}

// Session returns a copy of the session fields.
func (sm *StateMachine) Session() SessionState {
	return sm.session
}

// SetObserver sets the state observer.
func (sm *StateMachine) SetObserver(observer StateObserver) {
	if observer == nil {
		observer = NullStateObserver{}
	}
	sm.observer = observer
}

// IsCommandAllowed checks if a command is valid in the current state.
func (sm *StateMachine) IsCommandAllowed(cmd CommandVerb) bool {
	return IsCommandAllowed(sm.State(), cmd)
}

// Hello marks the session authenticated. A repeated HELO keeps any
// pending sender and recipient.
func (sm *StateMachine) Hello(id ClientID) error {
	return sm.apply(CmdHELO, func(s *SessionState) {
		s.Authenticated = true
		s.ClientID = id
	})
}

// SetSender records the MAIL FROM address, replacing any earlier one.
func (sm *StateMachine) SetSender(addr EmailAddress) error {
	return sm.apply(CmdMAIL, func(s *SessionState) {
		s.Sender = addr
	})
}

// SetRecipient records the RCPT TO address, replacing any earlier one.
func (sm *StateMachine) SetRecipient(addr EmailAddress) error {
	return sm.apply(CmdRCPT, func(s *SessionState) {
		s.Recipient = addr
	})
}

// BeginData enters body collection.
func (sm *StateMachine) BeginData() error {
	return sm.apply(CmdDATA, func(s *SessionState) {
		s.InData = true
	})
}

// EndData leaves body collection and clears the sender and recipient,
// whether or not the message was stored.
func (sm *StateMachine) EndData() error {
	if sm.State() != StateData {
		return &StateTransitionError{
			Current:   sm.State(),
			Attempted: StateAuthenticated,
			Command:   CmdDATA,
			Message:   "not in data state",
		}
	}
	return sm.transition(CmdDATA, func(s *SessionState) {
		s.ClearTransaction()
	})
}

// Terminate ends the session. It is valid from every state except
// Terminated itself.
func (sm *StateMachine) Terminate() error {
	return sm.transition(CmdQUIT, func(s *SessionState) {
		s.ClearTransaction()
		s.Terminated = true
	})
}

// apply checks the command's precondition and then performs the transition.
func (sm *StateMachine) apply(cmd CommandVerb, mutate func(*SessionState)) error {
	if !sm.IsCommandAllowed(cmd) {
		return &StateTransitionError{
			Current: sm.State(),
			Command: cmd,
			Message: cmd.String() + " not permitted in state " + sm.State().String(),
		}
	}
	return sm.transition(cmd, mutate)
}

// transition mutates the session and validates the resulting state change.
// An invalid change is rolled back.
func (sm *StateMachine) transition(cmd CommandVerb, mutate func(*SessionState)) error {
	before := sm.session
	from := before.State()

	mutate(&sm.session)
	to := sm.session.State()

	if !canTransition(from, to) {
		sm.session = before
		return &StateTransitionError{
			Current:   from,
			Attempted: to,
			Command:   cmd,
		}
	}

	if from != to {
		sm.observer.OnStateChange(StateTransition{From: from, To: to, Command: cmd})
	}
	return nil
}

// RecordError counts a consecutive syntax error and returns the new count.
func (sm *StateMachine) RecordError() ErrorCount {
	sm.session.ConsecutiveErrors++
	return sm.session.ConsecutiveErrors
}

// ResetErrors clears the consecutive error count.
func (sm *StateMachine) ResetErrors() {
	sm.session.ConsecutiveErrors = 0
}

func canTransition(from, to State) bool {
	for _, valid := range validTransitions[from] {
		if valid == to {
			return true
		}
	}
	return false
}

// validTransitions defines all valid state transitions. Staying in the same
// state is listed explicitly where a command may repeat.
var validTransitions = map[State][]State{
	StateNew:           {StateAuthenticated, StateTerminated},
	StateAuthenticated: {StateAuthenticated, StateSenderSet, StateTerminated},
	StateSenderSet:     {StateSenderSet, StateRecipientSet, StateTerminated},
	StateRecipientSet:  {StateRecipientSet, StateData, StateTerminated},
	StateData:          {StateAuthenticated, StateTerminated},
	StateTerminated:    {},
}
