package domain

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallIDFromQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  CallID
	}{
		{name: "call sid", query: "callSid=CA1", want: "CA1"},
		{name: "call log id", query: "callLogId=42", want: "42"},
		{name: "call sid wins", query: "callLogId=42&callSid=CA1", want: "CA1"},
		{name: "empty call sid falls through", query: "callSid=&callLogId=42", want: "42"},
		{name: "none", query: "", want: UnknownCallID},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := url.ParseQuery(tc.query)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, CallIDFromQuery(q))
		})
	}
}

func TestCallIDIsUnknown(t *testing.T) {
	assert.True(t, CallID("").IsUnknown())
	assert.True(t, UnknownCallID.IsUnknown())
	assert.False(t, CallID("CA1").IsUnknown())
}
