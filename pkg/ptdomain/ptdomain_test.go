package ptdomain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSizeMB(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want float64
	}{
		{"1.5 GB", 1536},
		{"512MiB", 512},
		{"1,024 GB", 1024 * 1024},
		{"2 TB", 2 * 1024 * 1024},
		{"100", 100},
		{"3072 KB", 3},
		{"", 0},
		{"free", 0},
	}
	for _, tc := range cases {
		require.InDelta(t, tc.want, ParseSizeMB(tc.in), 1e-9, "input %q", tc.in)
	}
}

func TestParseInt(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1234, ParseInt("1,234"))
	require.Equal(t, 56, ParseInt("56 seeders"))
	require.Equal(t, 0, ParseInt("---"))
	require.Equal(t, 0, ParseInt(""))
}

func TestBuildTorrentDefaults(t *testing.T) {
	t.Parallel()

	tr := BuildTorrent("site1", map[string]string{
		"id":      "42",
		"name":    "  Some.Movie.2020.1080p  ",
		"size":    "4.7 GB",
		"seeders": "12",
	})
	require.Equal(t, "42", tr.ID)
	require.Equal(t, "site1", tr.SiteID)
	require.Equal(t, "Some.Movie.2020.1080p", tr.Name)
	require.InDelta(t, 4812.8, tr.SizeMB, 0.1)
	require.Equal(t, 12, tr.Seeders)

	// absent factors mean a plain torrent
	require.Equal(t, 1.0, tr.DownloadFactor)
	require.Equal(t, 1.0, tr.UploadFactor)
}

func TestBuildTorrentFreeleech(t *testing.T) {
	t.Parallel()

	tr := BuildTorrent("site1", map[string]string{
		"id":                     "7",
		"download_volume_factor": "0",
		"upload_volume_factor":   "2",
	})
	require.Equal(t, 0.0, tr.DownloadFactor)
	require.Equal(t, 2.0, tr.UploadFactor)
}

func TestBuildTorrentFreeDeadline(t *testing.T) {
	t.Parallel()

	tr := BuildTorrent("site1", map[string]string{
		"id":            "9",
		"free_deadline": "2026-09-03 18:30:00",
	})
	require.NotNil(t, tr.FreeDeadline)
	want := time.Date(2026, 9, 3, 18, 30, 0, 0, time.Local)
	require.True(t, tr.FreeDeadline.Equal(want), "got %v", tr.FreeDeadline)

	// absent or garbled countdowns leave no deadline
	require.Nil(t, BuildTorrent("site1", map[string]string{"id": "9"}).FreeDeadline)
	require.Nil(t, BuildTorrent("site1", map[string]string{"id": "9", "free_deadline": "soon"}).FreeDeadline)
}

func TestBuildUserinfoShareRatio(t *testing.T) {
	t.Parallel()

	// explicit ratio wins over the computed one
	u := BuildUserinfo(map[string]string{
		"share_ratio": "3.14",
		"uploaded":    "100 GB",
		"downloaded":  "1 GB",
	})
	require.Equal(t, 3.14, u.ShareRatio)

	// computed from transfer volumes, rounded to two decimals
	u = BuildUserinfo(map[string]string{
		"uploaded":   "10 GB",
		"downloaded": "3 GB",
	})
	require.Equal(t, 3.33, u.ShareRatio)

	// nothing downloaded yet
	u = BuildUserinfo(map[string]string{"uploaded": "10 GB"})
	require.True(t, math.IsInf(u.ShareRatio, 1))
}
