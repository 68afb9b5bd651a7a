package smtpd

import "errors"

// Common SMTP errors.
var (
	ErrServerClosed     = errors.New("smtp: server closed")
	ErrHostnameRequired = errors.New("smtp: hostname is required")
	ErrSyntax           = errors.New("smtp: syntax error in parameters or arguments")
	ErrEmptyCommand     = errors.New("smtp: empty command line")
	ErrUnknownCommand   = errors.New("smtp: unknown command")
	ErrBadSequence      = errors.New("smtp: bad sequence of commands")
	ErrRecipientInvalid = errors.New("smtp: no such user")
	ErrIncompleteData   = errors.New("smtp: stream ended before end of data")
	ErrTooManyErrors    = errors.New("smtp: too many errors")
	ErrTimeout          = errors.New("smtp: timeout")
)
