package codecs_test

import (
	"testing"

	"github.com/ripkitten-co/grantbook/internal/codecs"
)

type payload struct {
	Recipient string `json:"recipient"`
	Index     int    `json:"index"`
}

func TestJSONIterCodec_Roundtrip(t *testing.T) {
	c := codecs.NewJSONIter()

	original := payload{Recipient: "0xabc", Index: 3}
	data, err := c.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got payload
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got != original {
		t.Errorf("got %+v, want %+v", got, original)
	}
}

func TestJSONIterCodec_FieldOrderFollowsStruct(t *testing.T) {
	c := codecs.NewJSONIter()

	data, err := c.Marshal(payload{Recipient: "0xdef", Index: 0})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if s := string(data); s != `{"recipient":"0xdef","index":0}` {
		t.Errorf("got %s", s)
	}
}

func TestJSONIterCodec_UnmarshalError(t *testing.T) {
	c := codecs.NewJSONIter()

	var got payload
	if err := c.Unmarshal([]byte("not json"), &got); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestJSONIterCodec_Valid(t *testing.T) {
	c := codecs.NewJSONIter()

	cases := map[string]bool{
		`{"name":"x"}`: true,
		`[1,2]`:        true,
		`"str"`:        true,
		`{"name":`:     false,
		``:             false,
	}
	for in, want := range cases {
		if got := c.Valid([]byte(in)); got != want {
			t.Errorf("Valid(%q) = %v, want %v", in, got, want)
		}
	}
}
