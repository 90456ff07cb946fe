package op

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_WireFormat(t *testing.T) {
	tests := []struct {
		o    Operation
		want string
	}{
		{NewInsert(3, "f"), `{"type":"insert","pos":3,"origin":3,"text":"f"}`},
		{Insert{Pos: 0, Text: "x", Origin: 2}, `{"type":"insert","pos":0,"origin":2,"text":"x"}`},
		{NewDelete(2, "r"), `{"type":"delete","pos":2,"text":"r"}`},
		{NoOp{}, `{"type":"noop"}`},
		{NewComposite(NewDelete(2, "r"), NoOp{}), `{"type":"composite","ops":[{"type":"delete","pos":2,"text":"r"},{"type":"noop"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.o.String(), func(t *testing.T) {
			data, err := Marshal(tt.o)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestUnmarshal_RoundTripsNestedComposite(t *testing.T) {
	in := NewComposite(
		NewInsert(1, "héllo"),
		NewComposite(NewDelete(0, "a"), Insert{Pos: 4, Text: "z", Origin: 9}),
		NoOp{},
	)

	data, err := Marshal(in)
	require.NoError(t, err)

	out, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, Operation(in), out)
}

func TestUnmarshal_DefaultsOriginToPos(t *testing.T) {
	out, err := Unmarshal([]byte(`{"type":"insert","pos":5,"text":"q"}`))
	require.NoError(t, err)
	assert.Equal(t, Operation(NewInsert(5, "q")), out)
}

func TestUnmarshal_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		msg  string
	}{
		{"unknown type", `{"type":"replace","pos":1,"text":"x"}`, `unknown type "replace"`},
		{"insert without text", `{"type":"insert","pos":1}`, "insert requires"},
		{"negative delete", `{"type":"delete","pos":-1,"text":"x"}`, "delete requires"},
		{"bad child", `{"type":"composite","ops":[{"type":"noop"},{"type":"bogus"}]}`, "composite[1]"},
		{"not json", `{`, "decode operation"},
		{"invalid utf-8", "{\"type\":\"insert\",\"pos\":0,\"text\":\"a\xffb\"}", "not valid UTF-8"},
		{"invalid utf-8 in child", "{\"type\":\"composite\",\"ops\":[{\"type\":\"delete\",\"pos\":0,\"text\":\"\xc3\"}]}", "not valid UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestMarshal_RejectsInvalidUTF8(t *testing.T) {
	for _, o := range []Operation{
		NewInsert(0, "a\xffb"),
		NewDelete(0, "\xc3"),
		NewComposite(NoOp{}, NewInsert(0, "\xff")),
	} {
		_, err := Marshal(o)
		require.Error(t, err, "%s", o)
		assert.Contains(t, err.Error(), "not valid UTF-8")
	}
}
