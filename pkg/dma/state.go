package dma

// fsmState is the per-channel transfer state. Exactly one transfer may be
// tracked at a time; the state cell is the synchronization point between
// the calling goroutine and the completion path.
//
// Legal transitions:
//
//	idle -> inFlight    on successful submission
//	inFlight -> completing  on the completion callback
//	inFlight|completing -> idle  on teardown
type fsmState uint32

const (
	stateIdle       fsmState = 0
	stateInFlight   fsmState = 1
	stateCompleting fsmState = 3
)

func (s fsmState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateInFlight:
		return "in-flight"
	case stateCompleting:
		return "completing"
	default:
		return "invalid"
	}
}
