package pkg

import "errors"

// Configuration errors: invalid construction-time parameters.
var (
	// ErrMisalignedAccess indicates an access that is not 64-byte aligned
	// where the accessed component requires cache-line alignment.
	ErrMisalignedAccess = errors.New("misaligned access")

	// ErrInvalidVPPB indicates an out-of-range vPPB index.
	ErrInvalidVPPB = errors.New("invalid vppb index")

	// ErrAlreadyBound indicates a bind request for an already-bound vPPB.
	ErrAlreadyBound = errors.New("vppb already bound")

	// ErrNotBound indicates an unbind request for a vPPB that is not bound.
	ErrNotBound = errors.New("vppb not bound")

	// ErrInvalidPort indicates an out-of-range physical port index.
	ErrInvalidPort = errors.New("invalid port index")

	// ErrInvalidParameter indicates an invalid constructor or request parameter.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDuplicateDecoder indicates a decoder index already committed.
	ErrDuplicateDecoder = errors.New("decoder already committed")
)

// Protocol errors: malformed or unexpected traffic on a FIFO.
var (
	// ErrUnexpectedPacketKind indicates a packet kind not valid on the
	// receiving queue.
	ErrUnexpectedPacketKind = errors.New("unexpected packet kind")

	// ErrUnknownOpcode indicates an opcode value outside the defined set
	// for its packet kind.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrShortPacket indicates a packet payload shorter than its header
	// declares.
	ErrShortPacket = errors.New("short packet")

	// ErrUnsupportedRequest mirrors the PCIe "Unsupported Request"
	// completion status.
	ErrUnsupportedRequest = errors.New("unsupported request")
)

// Routing errors.
var (
	// ErrRoutingMiss indicates no routing table entry matched the target.
	ErrRoutingMiss = errors.New("routing miss")

	// ErrOutOfBounds indicates an address outside any configured range.
	ErrOutOfBounds = errors.New("address out of bounds")

	// ErrDecoderUncommitted indicates a lookup against a decoder whose
	// commit bit is not yet set.
	ErrDecoderUncommitted = errors.New("decoder not committed")

	// ErrNoDecoderMatch indicates no committed decoder covers the HPA.
	ErrNoDecoderMatch = errors.New("no decoder covers address")
)

// Coherency errors.
var (
	// ErrSnoopTimeout indicates a snoop response did not arrive within
	// the configured timeout.
	ErrSnoopTimeout = errors.New("snoop timeout")

	// ErrUnderSnoop indicates a snoop filter false negative was detected
	// (a coherence invariant violation).
	ErrUnderSnoop = errors.New("snoop filter under-snoop detected")

	// ErrCacheConflict indicates a line is concurrently claimed by two
	// coherence transactions.
	ErrCacheConflict = errors.New("conflicting cache transaction")
)

// Backend / IO errors.
var (
	// ErrBackendIO indicates an error reading or writing the backing
	// store (file or memory) for device or host memory.
	ErrBackendIO = errors.New("backend i/o error")

	// ErrNoResources indicates insufficient resources (e.g., pending
	// transaction slots, background-operation slots).
	ErrNoResources = errors.New("no resources available")
)

// Background-command (Fabric Manager CCI) errors.
var (
	// ErrBackgroundBusy indicates a background operation is already
	// running and a new one was requested.
	ErrBackgroundBusy = errors.New("background operation already running")

	// ErrNoBackgroundOperation indicates a status poll with no
	// background operation outstanding.
	ErrNoBackgroundOperation = errors.New("no background operation in progress")
)

// Lifecycle errors.
var (
	// ErrAlreadyRunning indicates the actor is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the actor is not running.
	ErrNotRunning = errors.New("not running")

	// ErrShutdown indicates an operation was attempted on a fabric
	// component after it received the shutdown signal.
	ErrShutdown = errors.New("component shut down")
)

// CompletionStatus represents the completion status of a CXL.io (CFG or
// MMIO) or CXL.mem transaction, mirroring PCIe completion status codes
// plus the CCI common return-code set.
type CompletionStatus int

// Completion status values.
const (
	StatusSuccess              CompletionStatus = iota // completed successfully
	StatusUnsupportedRequest                            // PCIe UR
	StatusConfigRequestRetry                            // CRS (config retry)
	StatusCompleterAbort                                // CA
	StatusTimeout                                       // no completion within deadline
	StatusInvalidInput                                  // CCI INVALID_INPUT
	StatusBusy                                          // CCI BUSY
	StatusBackgroundStarted                             // CCI BACKGROUND_COMMAND_STARTED
	StatusInternalError                                 // CCI INTERNAL_ERROR
	StatusUnsupported                                   // CCI UNSUPPORTED
)

// String returns a human-readable name for the completion status.
func (s CompletionStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUnsupportedRequest:
		return "unsupported-request"
	case StatusConfigRequestRetry:
		return "config-request-retry"
	case StatusCompleterAbort:
		return "completer-abort"
	case StatusTimeout:
		return "timeout"
	case StatusInvalidInput:
		return "invalid-input"
	case StatusBusy:
		return "busy"
	case StatusBackgroundStarted:
		return "background-started"
	case StatusInternalError:
		return "internal-error"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error returns the sentinel error corresponding to the status, or nil
// for StatusSuccess and StatusBackgroundStarted, the "in-flight" status
// that is not an error.
func (s CompletionStatus) Error() error {
	switch s {
	case StatusSuccess, StatusBackgroundStarted:
		return nil
	case StatusUnsupportedRequest:
		return ErrUnsupportedRequest
	case StatusConfigRequestRetry:
		return ErrRoutingMiss
	case StatusCompleterAbort:
		return ErrBackendIO
	case StatusTimeout:
		return ErrSnoopTimeout
	case StatusInvalidInput:
		return ErrInvalidParameter
	case StatusBusy:
		return ErrBackgroundBusy
	case StatusInternalError:
		return ErrBackendIO
	case StatusUnsupported:
		return ErrUnsupportedRequest
	default:
		return ErrUnknownOpcode
	}
}
