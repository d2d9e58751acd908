// Package ptdomain carries the shared value objects exchanged with the
// private-tracker adapter: torrents, user statistics, and the coarse
// cross-site category taxonomy. The adapter only ever feeds raw field
// maps into the builders here; it never assembles these structs by hand.
package ptdomain

import (
	"strings"
	"time"
)

// CateLevel1 is the coarse category taxonomy shared by every site.
type CateLevel1 string

// Supported level-1 categories.
const (
	CategoryMovie       CateLevel1 = "Movie"
	CategoryTV          CateLevel1 = "TV"
	CategoryDocumentary CateLevel1 = "Documentary"
	CategoryAnime       CateLevel1 = "Anime"
	CategoryMusic       CateLevel1 = "Music"
	CategoryAV          CateLevel1 = "AV"
	CategoryGame        CateLevel1 = "Game"
	CategoryOther       CateLevel1 = "Other"
)

// AllCategories lists every level-1 category in presentation order.
var AllCategories = []CateLevel1{
	CategoryMovie,
	CategoryTV,
	CategoryDocumentary,
	CategoryAnime,
	CategoryMusic,
	CategoryAV,
	CategoryGame,
	CategoryOther,
}

// ParseCateLevel1 maps a case-insensitive name ("movie", "TV") onto its
// canonical category. Unknown names report false.
func ParseCateLevel1(s string) (CateLevel1, bool) {
	s = strings.TrimSpace(s)
	for _, c := range AllCategories {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}

// Torrent is one row of a site listing or search result.
type Torrent struct {
	ID             string     `json:"id"`
	SiteID         string     `json:"site_id"`
	Name           string     `json:"name"`
	Subject        string     `json:"subject,omitempty"`
	DetailsURL     string     `json:"details_url,omitempty"`
	DownloadURL    string     `json:"download_url,omitempty"`
	ImdbID         string     `json:"imdb_id,omitempty"`
	CateLevel1     CateLevel1 `json:"cate_level1,omitempty"`
	CategoryID     string     `json:"category_id,omitempty"`
	SizeMB         float64    `json:"size_mb"`
	Seeders        int        `json:"upload_count"`
	Leechers       int        `json:"downloading_count"`
	Grabs          int        `json:"download_count"`
	DownloadFactor float64    `json:"download_volume_factor"`
	UploadFactor   float64    `json:"upload_volume_factor"`
	FreeDeadline   *time.Time `json:"free_deadline,omitempty"`
	PublishDate    string     `json:"publish_date,omitempty"`
	PosterURL      string     `json:"poster_url,omitempty"`
	MinimumRatio   float64    `json:"minimum_ratio,omitempty"`
}

// SiteUserinfo is the authenticated account snapshot for one site.
type SiteUserinfo struct {
	UID        int     `json:"uid"`
	Username   string  `json:"username"`
	UserGroup  string  `json:"user_group"`
	UploadedMB float64 `json:"uploaded"`
	// DownloadedMB is zero for sites that only count uploads.
	DownloadedMB float64 `json:"downloaded"`
	Seeding      int     `json:"seeding"`
	Leeching     int     `json:"leeching"`
	ShareRatio   float64 `json:"share_ratio"`
	VipGroup     bool    `json:"vip_group"`
}

// TorrentDetail is the parsed form of a single torrent detail page.
type TorrentDetail struct {
	ID          string  `json:"id"`
	SiteID      string  `json:"site_id"`
	Name        string  `json:"name"`
	Subject     string  `json:"subject,omitempty"`
	DownloadURL string  `json:"download_url,omitempty"`
	ImdbID      string  `json:"imdb_id,omitempty"`
	SizeMB      float64 `json:"size_mb,omitempty"`
	PublishDate string  `json:"publish_date,omitempty"`
}
