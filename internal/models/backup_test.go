package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackupDate(t *testing.T) {
	tests := []struct {
		name string
		date string
		ok   bool
		want time.Time
	}{
		{name: "rfc3339", date: "2024-05-01T12:00:00Z", ok: true, want: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{name: "legacy", date: "2023-01-02_03-04-05", ok: true, want: time.Date(2023, 1, 2, 3, 4, 5, 0, time.Local)},
		{name: "garbage", date: "yesterday", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseBackupDate(tt.date)

			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v", got)
			}
		})
	}
}

func TestFormatBackupDate(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	ts := time.Date(2024, 5, 1, 14, 0, 0, 999_000_000, loc)

	assert.Equal(t, "2024-05-01T12:00:00Z", FormatBackupDate(ts))
}

func TestArchiveFileName(t *testing.T) {
	assert.Equal(t, "2024-05-01T12-00-00Z.zip", ArchiveFileName("2024-05-01T12:00:00Z"))
	assert.Equal(t, "2023-01-02_03-04-05.zip", ArchiveFileName("2023-01-02_03-04-05"))
}

func TestSortBackupsDesc(t *testing.T) {
	backups := []Backup{
		{Date: "2024-01-01T00:00:00Z"},
		{Date: "not-a-date-b"},
		{Date: "2024-03-01T00:00:00Z"},
		{Date: "not-a-date-a"},
		{Date: "2024-02-01T00:00:00Z"},
	}

	SortBackupsDesc(backups)

	dates := make([]string, 0, len(backups))
	for _, b := range backups {
		dates = append(dates, b.Date)
	}
	assert.Equal(t, []string{
		"2024-03-01T00:00:00Z",
		"2024-02-01T00:00:00Z",
		"2024-01-01T00:00:00Z",
		"not-a-date-b",
		"not-a-date-a",
	}, dates)
}

func TestBackupsInfo_FindAndClone(t *testing.T) {
	info := BackupsInfo{Name: "Foo", Backups: []Backup{{Date: "a", Describe: "first"}}}

	b, ok := info.Find("a")
	require.True(t, ok)
	assert.Equal(t, "first", b.Describe)
	_, ok = info.Find("b")
	assert.False(t, ok)

	cp := info.Clone()
	cp.Backups[0].Describe = "changed"
	assert.Equal(t, "first", info.Backups[0].Describe)
}
