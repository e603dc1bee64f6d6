package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var ErrLogRemoved = errors.New("log removed by reorg")

// DecodeError is returned for logs that cannot be turned into a Packet. Such
// logs are dropped; the chain re-emits them once they are confirmed.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode packet: %s: %v", e.Reason, e.Err)
	}
	return "decode packet: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TransientServiceError wraps a failed or timed out call to an external
// service. The packet stays non-terminal and is retried later.
type TransientServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *TransientServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *TransientServiceError) Unwrap() error { return e.Err }

// SubmissionRevert is a contract level rejection of a verification. It is
// terminal for the packet until replayed manually.
type SubmissionRevert struct {
	TxHash common.Hash // zero when the revert was detected during estimation
	Reason string
	Err    error
}

func (e *SubmissionRevert) Error() string {
	msg := "submission reverted"
	if e.TxHash != (common.Hash{}) {
		msg += " tx=" + e.TxHash.Hex()
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionRevert) Unwrap() error { return e.Err }

// IsTransient reports whether err should leave a packet eligible for an
// automatic retry.
func IsTransient(err error) bool {
	var tse *TransientServiceError
	return errors.As(err, &tse)
}

// IsRevert reports whether err is a contract level rejection.
func IsRevert(err error) bool {
	var rev *SubmissionRevert
	return errors.As(err, &rev)
}
