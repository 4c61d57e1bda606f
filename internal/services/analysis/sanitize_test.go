package analysis

import (
	"encoding/json"
	"testing"
)

func TestSanitizeNonFinite(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{`[NaN, 1, Infinity, -Infinity]`, `[null, 1, null, null]`},
		{`{"sr":[NaN],"t":"NaN"}`, `{"sr":[null],"t":"NaN"}`},
		{`{"s":"say \"NaN\" Infinity"}`, `{"s":"say \"NaN\" Infinity"}`},
		{`{"k":NaN}`, `{"k":null}`},
		{`{"NaNa":1}`, `{"NaNa":1}`},
	}
	for _, c := range cases {
		if got := string(SanitizeNonFinite([]byte(c.in))); got != c.want {
			t.Fatalf("SanitizeNonFinite(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestSanitizedPythonPayloadDecodes(t *testing.T) {
	in := []byte(`{"shapes":{"flag":[{"points":[NaN,10,20,30],"type":"bull_flag"}]}}`)
	var v map[string]interface{}
	if err := json.Unmarshal(SanitizeNonFinite(in), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}
