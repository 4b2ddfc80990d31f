package monkeylib

import "github.com/yourusername/monkeylib/pkg/monkeylib/proto"

// GetRequestHeader looks up a request header by name, case-insensitively,
// without requiring callers to import the proto package directly.
func GetRequestHeader(req *proto.Request, name string) (string, bool) {
	return req.GetHeaderString(name)
}
