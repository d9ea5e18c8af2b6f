package pipeline

// Consumer is the single-method contract every stage conforms to: accept an
// event, perform the stage's local responsibility, forward downstream.
//
// The pipeline is a flat chain of Consumers, each holding a reference to the
// next. There is no subclassing; a stage is distinguished only by what it
// does before (or instead of) forwarding.
//
// Thread safety: Accept must be safe for concurrent use. The head of the
// chain is called directly from producer goroutines; inner stages are called
// from dispatcher workers.
type Consumer interface {
	Accept(e *Event) error
}

// ConsumerFunc adapts a plain function to the Consumer interface.
type ConsumerFunc func(e *Event) error

func (f ConsumerFunc) Accept(e *Event) error { return f(e) }

// Processor is the terminal-consumer contract supplied by the caller.
//
// Process is synchronous and may block for the full per-event service time
// (~10ms in the nominal workload). It must be safe for concurrent calls
// with distinct ClientIDs; the dispatcher guarantees calls for the same
// ClientID never overlap.
type Processor interface {
	Process(e *Event) (*Event, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(e *Event) (*Event, error)

func (f ProcessorFunc) Process(e *Event) (*Event, error) { return f(e) }
