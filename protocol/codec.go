package protocol

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/Outernet-Project/fsal/events"
)

// readRequest reads one NUL-terminated document from r and returns its
// bytes with the terminator stripped. Unlike a naive single Read call,
// this accumulates across as many reads as the framing requires, so a
// request delivered across several TCP-sized chunks on a busy unix
// socket is never truncated.
func readRequest(r *bufio.Reader) ([]byte, error) {
	data, err := r.ReadBytes(0)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(data, []byte{0}), nil
}

func decodeRequest(data []byte) (cmdType string, params node, err error) {
	var req wireRequest
	if err := xml.Unmarshal(data, &req); err != nil {
		return "", node{}, fmt.Errorf("decoding request: %w", err)
	}
	return req.Command.Type, req.Command.Params, nil
}

// encodeResponse marshals a result node tree into a complete response
// document with its NUL terminator appended, ready to write to the
// connection.
func encodeResponse(result node) ([]byte, error) {
	doc := wrap("response", result)
	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return append(out, 0), nil
}

func okResult(kids ...node) node {
	return wrap("result", append([]node{boolElem("success", true)}, kids...)...)
}

func failResult(msg string) node {
	return wrap("result", boolElem("success", false), elem("error", msg))
}

func eventsNode(evs []events.Event) node {
	kids := make([]node, len(evs))
	for i, e := range evs {
		kids[i] = wrap("event",
			elem("type", string(e.Type)),
			elem("src", e.Path),
			boolElem("is_dir", e.IsDir()),
		)
	}
	return wrap("events", kids...)
}
