// Package binprot implements the framing of the memcached binary protocol.
//
// It only knows about frames: how a header is laid out, which extra block a
// command carries, how a body splits into extra, key and value, and how a
// status code maps to an error. Connection management, authentication and
// concurrency are left to the caller.
//
// # Frames
//
// Every frame starts with a 24-byte big-endian Header followed by
// BodyLength bytes: the extra block, the key, then the value.
//
//	req, err := binprot.NewGetRequest("mykey")
//	if err != nil {
//	    return err
//	}
//	if err := binprot.WriteRequest(w, req); err != nil {
//	    return err
//	}
//	w.Flush()
//
//	resp, err := binprot.ReadResponse(r)
//	if err != nil {
//	    return err // FormatError or TransportError
//	}
//	if err := binprot.StatusError(resp.Status(), req.Header.Opcode, "mykey"); err != nil {
//	    return err // RequestError or ServerError
//	}
//
// The CAS and opaque fields are kept as fixed-size byte arrays: they are
// echoed, never computed.
//
// # Error Handling
//
// Errors are typed by what they mean for the connection:
//
//   - FormatError: malformed or truncated frame, close the connection
//   - TransportError: I/O failure or deadline, close the connection
//   - RequestError: status below 0x80, the connection stays usable
//   - ServerError: status at or above 0x80, the connection stays usable
//   - InvalidKeyError: rejected before any I/O
//
// ShouldCloseConnection tells them apart. Status implements error, so a
// specific status is matched with errors.Is(err, binprot.StatusKeyExists).
package binprot
