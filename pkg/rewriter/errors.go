package rewriter

import "errors"

var (
	// engine errors
	ErrEngineClosed = errors.New("rewriting engine is closed")

	errNilPacket          = errors.New("invalid nil packet")
	errNoSourceRewriter   = errors.New("no rewriter for source ssrc")
	errNoCoveringInterval = errors.New("no interval covers sequence number")

	// sub-header errors
	errShortRTXPayload   = errors.New("rtx payload is not large enough")
	errShortFECHeader    = errors.New("fec header is not large enough")
	errShortREDHeader    = errors.New("red header is not large enough")
	errRTXUnresolved     = errors.New("rtx original sequence number unresolved")
	errFECBaseUnresolved = errors.New("fec sequence number base unresolved")

	// timestamp errors
	errNoClockCorrelation = errors.New("no wallclock correlation for ssrc")
)
