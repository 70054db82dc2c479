package session

// Event names carried in platformEvent messages.
const (
	EventRecorderStatus = "recorderStatus"
	EventDataPeriod     = "dataPeriod"
)

// Event is one outbound notification. Data is a status name for
// recorderStatus and little-endian PCM bytes for dataPeriod.
type Event struct {
	Name string
	Data any
}

// Emitter delivers events to the single subscriber. Emit must not block;
// undeliverable events are dropped.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}
