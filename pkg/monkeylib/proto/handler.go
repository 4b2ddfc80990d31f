package proto

// Handler processes one parsed request and writes a response. Returning a
// non-nil error tells the connection state machine to close the
// connection after the response is flushed, regardless of what the
// request or response headers say about keep-alive.
type Handler func(req *Request, rw *ResponseWriter) error
