package ptdomain

import (
	"math"
	"strings"
	"time"
)

// BuildTorrent maps a raw extracted field set onto a Torrent. Field names
// follow the site profile convention (id, name, subject, details, download,
// imdb, category, size, seeders, leechers, grabs, download_volume_factor,
// upload_volume_factor, date, poster, minimum_ratio). Absent fields leave
// the zero value; volume factors default to 1 (a plain, non-free torrent).
func BuildTorrent(siteID string, raw map[string]string) Torrent {
	t := Torrent{
		ID:             raw["id"],
		SiteID:         siteID,
		Name:           strings.TrimSpace(raw["name"]),
		Subject:        strings.TrimSpace(raw["subject"]),
		DetailsURL:     raw["details"],
		DownloadURL:    raw["download"],
		ImdbID:         raw["imdb"],
		CategoryID:     raw["category"],
		SizeMB:         ParseSizeMB(raw["size"]),
		Seeders:        ParseInt(raw["seeders"]),
		Leechers:       ParseInt(raw["leechers"]),
		Grabs:          ParseInt(raw["grabs"]),
		PublishDate:    raw["date"],
		PosterURL:      raw["poster"],
		MinimumRatio:   ParseFloat(raw["minimum_ratio"]),
		DownloadFactor: 1,
		UploadFactor:   1,
	}
	if v, ok := raw["download_volume_factor"]; ok && strings.TrimSpace(v) != "" {
		t.DownloadFactor = ParseFloat(v)
	}
	if v, ok := raw["upload_volume_factor"]; ok && strings.TrimSpace(v) != "" {
		t.UploadFactor = ParseFloat(v)
	}
	if dl := parseDeadline(raw["free_deadline"]); dl != nil {
		t.FreeDeadline = dl
	}
	return t
}

// deadlineLayouts are the timestamp shapes NexusPHP sites print on
// freeleech countdowns.
var deadlineLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseDeadline(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range deadlineLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &ts
		}
	}
	return nil
}

// BuildUserinfo maps a raw extracted field set onto a SiteUserinfo.
// Share ratio falls back to uploaded/downloaded when the site does not
// print one, and to +Inf when nothing was downloaded yet.
func BuildUserinfo(raw map[string]string) SiteUserinfo {
	u := SiteUserinfo{
		UID:          ParseInt(raw["uid"]),
		Username:     strings.TrimSpace(raw["username"]),
		UserGroup:    strings.TrimSpace(raw["user_group"]),
		UploadedMB:   ParseSizeMB(raw["uploaded"]),
		DownloadedMB: ParseSizeMB(raw["downloaded"]),
		Seeding:      ParseInt(raw["seeding"]),
		Leeching:     ParseInt(raw["leeching"]),
		VipGroup:     parseBool(raw["vip_group"]),
	}
	if v, ok := raw["share_ratio"]; ok && strings.TrimSpace(v) != "" {
		u.ShareRatio = ParseFloat(v)
		return u
	}
	if u.DownloadedMB == 0 {
		u.ShareRatio = math.Inf(1)
		return u
	}
	u.ShareRatio = math.Round(u.UploadedMB/u.DownloadedMB*100) / 100
	return u
}

// BuildTorrentDetail maps a raw extracted field set onto a TorrentDetail.
func BuildTorrentDetail(siteID string, raw map[string]string) TorrentDetail {
	return TorrentDetail{
		ID:          raw["id"],
		SiteID:      siteID,
		Name:        strings.TrimSpace(raw["name"]),
		Subject:     strings.TrimSpace(raw["subject"]),
		DownloadURL: raw["download"],
		ImdbID:      raw["imdb"],
		SizeMB:      ParseSizeMB(raw["size"]),
		PublishDate: raw["date"],
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
