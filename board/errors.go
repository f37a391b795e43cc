package board

import "errors"

var (
	ErrInvalidBaud     = errors.New("invalid baud rate")
	ErrInvalidChannel  = errors.New("invalid dma channel")
	ErrChannelBusy     = errors.New("dma channel reconfigured while enabled")
	ErrInvalidPeriod   = errors.New("invalid timer period")
	ErrTXTimeout       = errors.New("transmitter stayed busy")
	ErrSourceRange     = errors.New("interrupt source outside the controller")
	ErrHandoffNotArmed = errors.New("hardware access to a handoff buffer that is not armed")
	ErrHandoffState    = errors.New("handoff buffer used out of order")
	ErrStaleLease      = errors.New("access through a released handoff lease")
)
