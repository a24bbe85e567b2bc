package recipient

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Metadata is the project description a recipient publishes at
// registration. Content is not validated.
type Metadata struct {
	Name               string `json:"name"`
	TagLine            string `json:"tagline,omitempty"`
	Description        string `json:"description,omitempty"`
	Category           string `json:"category,omitempty"`
	ProblemSpace       string `json:"problemSpace,omitempty"`
	Plans              string `json:"plans,omitempty"`
	ImageHash          string `json:"imageHash,omitempty"`
	BannerImageHash    string `json:"bannerImageHash,omitempty"`
	ThumbnailImageHash string `json:"thumbnailImageHash,omitempty"`
	WebsiteURL         string `json:"websiteUrl,omitempty"`
	TwitterURL         string `json:"twitterUrl,omitempty"`
	GithubURL          string `json:"githubUrl,omitempty"`
	RadicleURL         string `json:"radicleUrl,omitempty"`
	DiscordURL         string `json:"discordUrl,omitempty"`
}

// DecodeMetadata parses a raw metadata blob. Anything other than a JSON
// object, including fields of the wrong type, is ErrInvalidMetadata.
func DecodeMetadata(raw string) (Metadata, error) {
	b := bytes.TrimSpace([]byte(raw))
	if len(b) == 0 || b[0] != '{' {
		return Metadata{}, fmt.Errorf("%w: not a JSON object", ErrInvalidMetadata)
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return m, nil
}
