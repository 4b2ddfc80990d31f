package proto

import "errors"

// StatusForError maps a parser/protocol sentinel error to the HTTP status
// code a server should write before closing the connection. ok is false
// for errors that carry no well-defined response (a peer closing the
// socket mid-read, a plain I/O error) - those must still just close.
func StatusForError(err error) (status int, ok bool) {
	switch {
	case errors.Is(err, ErrHeadersTooLarge), errors.Is(err, ErrHeaderTooLarge):
		return 413, true
	case errors.Is(err, ErrRequestLineTooLarge), errors.Is(err, ErrURITooLong):
		return 414, true
	case errors.Is(err, ErrTooManyHeaders):
		return 431, true
	case errors.Is(err, ErrInvalidMethod):
		return 501, true
	case errors.Is(err, ErrInvalidRequestLine),
		errors.Is(err, ErrInvalidPath),
		errors.Is(err, ErrInvalidProtocol),
		errors.Is(err, ErrInvalidHeader),
		errors.Is(err, ErrChunkedEncoding),
		errors.Is(err, ErrInvalidContentLength),
		errors.Is(err, ErrContentLengthWithTransferEncoding),
		errors.Is(err, ErrDuplicateContentLength):
		return 400, true
	default:
		return 0, false
	}
}

// StatusText returns the reason phrase for code, "Unknown" for an
// unrecognized one. Exported wrapper around the table response.go
// already builds status lines from.
func StatusText(code int) string {
	return statusText(code)
}
