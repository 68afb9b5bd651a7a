package smtpd

import "fmt"

// SMTPCode represents SMTP reply codes (RFC 5321).
// 2yz: Success, 3yz: Continue, 4yz: Transient failure, 5yz: Permanent failure.
type SMTPCode int

const (
	// 2xx - Success
	CodeServiceReady   SMTPCode = 220
	CodeServiceClosing SMTPCode = 221
	CodeOK             SMTPCode = 250

	// 3xx - Intermediate
	CodeStartMailInput SMTPCode = 354

	// 4xx - Transient Failure
	CodeServiceUnavailable SMTPCode = 421

	// 5xx - Permanent Failure
	CodeCommandUnrecognized   SMTPCode = 500
	CodeSyntaxError           SMTPCode = 501
	CodeCommandNotImplemented SMTPCode = 502
	CodeBadSequence           SMTPCode = 503
	CodeMailboxNotFound       SMTPCode = 550
	CodeTransactionFailed     SMTPCode = 554
)

// Response represents an SMTP reply to be sent to the client.
type Response struct {
	Code    SMTPCode
	Message string
}

// String formats the response as an SMTP reply line, without the terminator.
func (r Response) String() string {
	return fmt.Sprintf("%d %s", r.Code, r.Message)
}

// IsError returns true for 4xx or 5xx codes.
func (r Response) IsError() bool {
	return r.Code >= 400
}

// IsSuccess returns true for 2xx codes.
func (r Response) IsSuccess() bool {
	return r.Code >= 200 && r.Code < 300
}

// IsIntermediate returns true for 3xx codes.
func (r Response) IsIntermediate() bool {
	return r.Code >= 300 && r.Code < 400
}

// ResponseServiceReady creates the 220 greeting.
// The domain must be the first word after the code.
func ResponseServiceReady(domain string) Response {
	return Response{Code: CodeServiceReady, Message: domain + " Service ready"}
}

// ResponseServiceClosing creates the 221 QUIT acknowledgment.
func ResponseServiceClosing(domain string) Response {
	return Response{Code: CodeServiceClosing, Message: domain + " Service closing transmission channel"}
}

// ResponseServiceUnavailable creates a 421 response. The connection is
// closed after it is sent.
func ResponseServiceUnavailable(domain string, message string) Response {
	msg := domain
	if message != "" {
		msg = domain + " " + message
	}
	return Response{Code: CodeServiceUnavailable, Message: msg}
}

// ResponseOK creates a 250 response.
func ResponseOK(message string) Response {
	return Response{Code: CodeOK, Message: message}
}

// ResponseStartMailInput creates the 354 reply that opens the DATA phase.
func ResponseStartMailInput() Response {
	return Response{Code: CodeStartMailInput, Message: "Start mail input; end with <CRLF>.<CRLF>"}
}

// ResponseCommandNotRecognized creates a 500 response.
func ResponseCommandNotRecognized() Response {
	return Response{Code: CodeCommandUnrecognized, Message: "Syntax error, command unrecognized"}
}

// ResponseSyntaxError creates a 501 response.
func ResponseSyntaxError() Response {
	return Response{Code: CodeSyntaxError, Message: "Syntax error in parameters or arguments"}
}

// ResponseIncompleteData creates the 501 sent when the stream ends inside DATA.
func ResponseIncompleteData() Response {
	return Response{Code: CodeSyntaxError, Message: "Incomplete message data, closing connection"}
}

// ResponseCommandNotImplemented creates a 502 response.
func ResponseCommandNotImplemented() Response {
	return Response{Code: CodeCommandNotImplemented, Message: "Command not implemented"}
}

// ResponseBadSequence creates a 503 response.
func ResponseBadSequence() Response {
	return Response{Code: CodeBadSequence, Message: "Bad sequence of commands"}
}

// ResponseMailboxNotFound creates a 550 response naming the rejected address.
func ResponseMailboxNotFound(address string) Response {
	return Response{Code: CodeMailboxNotFound, Message: "No such user - " + address}
}

// ResponseTransactionFailed creates a 554 response.
func ResponseTransactionFailed(message string) Response {
	return Response{Code: CodeTransactionFailed, Message: message}
}
