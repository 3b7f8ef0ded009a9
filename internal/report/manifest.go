package report

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/italolelis/grfn_downloader/internal/manifest"
)

const day = 24 * time.Hour

var manifestHeader = []string{"index", "dt_days", "primary", "secondary", "granule"}

type manifestRow struct {
	index     int
	primary   time.Time
	secondary time.Time
	granule   string
}

// WriteManifestSummary writes one CSV row per manifest entry: the
// interferogram's primary (end) and secondary (start) dates rounded to the
// day and the separation between them, ordered by primary then secondary.
// index is the entry's position in refs.
func WriteManifestSummary(w io.Writer, refs []manifest.ObjectRef) error {
	rows := make([]manifestRow, len(refs))

	for i, r := range refs {
		rows[i] = manifestRow{
			index:     i,
			primary:   r.TimeEnd.UTC().Round(day),
			secondary: r.TimeStart.UTC().Round(day),
			granule:   r.ID,
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].primary.Equal(rows[j].primary) {
			return rows[i].primary.Before(rows[j].primary)
		}

		return rows[i].secondary.Before(rows[j].secondary)
	})

	cw := csv.NewWriter(w)

	if err := cw.Write(manifestHeader); err != nil {
		return err
	}

	for _, r := range rows {
		dt := int(r.primary.Sub(r.secondary) / day)

		if err := cw.Write([]string{
			strconv.Itoa(r.index),
			strconv.Itoa(dt),
			r.primary.Format(time.DateOnly),
			r.secondary.Format(time.DateOnly),
			r.granule,
		}); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}
