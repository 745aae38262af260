// Package domain contains call identifiers without logic, just meta-data
package domain

import "net/url"

// UnknownCallID is used when the connection request carries no call identifier.
const UnknownCallID CallID = "unknown"

type (
	CallID    string
	StreamID  string
	AccountID string
)

// CallIDFromQuery picks the provisional call identifier from a connection URL.
// callSid wins over callLogId.
func CallIDFromQuery(q url.Values) CallID {
	if v := q.Get("callSid"); v != "" {
		return CallID(v)
	}
	if v := q.Get("callLogId"); v != "" {
		return CallID(v)
	}
	return UnknownCallID
}

func (id CallID) IsUnknown() bool { return id == "" || id == UnknownCallID }
