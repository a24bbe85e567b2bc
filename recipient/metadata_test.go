package recipient

import (
	"errors"
	"testing"
)

func TestDecodeMetadata(t *testing.T) {
	raw := `{"name":"Grant","tagline":"t","imageHash":"QmImage","thumbnailImageHash":"QmThumb","unknown":1}`
	got, err := DecodeMetadata(raw)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if got.Name != "Grant" || got.TagLine != "t" || got.ImageHash != "QmImage" || got.ThumbnailImageHash != "QmThumb" {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeMetadata_Empty(t *testing.T) {
	got, err := DecodeMetadata(" {} ")
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if got != (Metadata{}) {
		t.Errorf("got %+v, want zero", got)
	}
}

func TestDecodeMetadata_Invalid(t *testing.T) {
	for _, raw := range []string{
		"",
		"null",
		"[]",
		`"name"`,
		"42",
		`{"name":`,
		`{"name":5}`,
	} {
		if _, err := DecodeMetadata(raw); !errors.Is(err, ErrInvalidMetadata) {
			t.Errorf("DecodeMetadata(%q): got %v, want ErrInvalidMetadata", raw, err)
		}
	}
}
