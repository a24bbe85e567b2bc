package snapshot

import (
	"strings"

	"github.com/ripkitten-co/grantbook/recipient"
)

// DefaultGateway serves image hashes when no gateway is configured.
const DefaultGateway = "https://ipfs.io"

// Project is a recipient as shown to contributors: identity, decoded
// metadata, resolved image URLs and the round flags.
type Project struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Index   uint64 `json:"index"`

	recipient.Metadata

	ImageURL          string `json:"imageUrl"`
	BannerImageURL    string `json:"bannerImageUrl,omitempty"`
	ThumbnailImageURL string `json:"thumbnailImageUrl,omitempty"`

	IsHidden bool `json:"isHidden"`
	IsLocked bool `json:"isLocked"`
}

func newProject(rec recipient.Recipient, meta recipient.Metadata, gateway string) Project {
	return Project{
		ID:                rec.ID,
		Address:           rec.Address,
		Index:             rec.Index,
		Metadata:          meta,
		ImageURL:          ipfsURL(gateway, meta.ImageHash),
		BannerImageURL:    ipfsURL(gateway, meta.BannerImageHash),
		ThumbnailImageURL: ipfsURL(gateway, meta.ThumbnailImageHash),
	}
}

func ipfsURL(gateway, hash string) string {
	if hash == "" {
		return ""
	}
	return strings.TrimRight(gateway, "/") + "/ipfs/" + hash
}
