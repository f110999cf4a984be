package interchange

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/k3a/html2text"
)

const gpxNamespace = "http://www.topografix.com/GPX/1/1"

var htmlTag = regexp.MustCompile(`(?i)</?[a-z][a-z0-9]*(\s[^<>]*)?/?>`)

type gpxFile struct {
	XMLName   xml.Name      `xml:"gpx"`
	Version   string        `xml:"version,attr"`
	Creator   string        `xml:"creator,attr"`
	Xmlns     string        `xml:"xmlns,attr,omitempty"`
	Waypoints []gpxWaypoint `xml:"wpt"`
}

type gpxWaypoint struct {
	Lat  float64  `xml:"lat,attr"`
	Lon  float64  `xml:"lon,attr"`
	Ele  *float64 `xml:"ele,omitempty"`
	Time string   `xml:"time,omitempty"`
	Name string   `xml:"name,omitempty"`
	Desc string   `xml:"desc,omitempty"`
}

// Description labels, one per line in <desc>.
const (
	descVariety   = "Variety: "
	descRootstock = "Rootstock: "
	descNotes     = "Notes: "
)

// WriteGPX writes one waypoint per record. The name carries the species;
// the description carries the secondary labels and notes. encoding/xml
// escapes markup characters.
func WriteGPX(w io.Writer, records []RecordDoc, creator string) error {
	if creator == "" {
		creator = "treetrack"
	}
	file := gpxFile{
		Version:   "1.1",
		Creator:   creator,
		Xmlns:     gpxNamespace,
		Waypoints: make([]gpxWaypoint, 0, len(records)),
	}
	for i := range records {
		r := &records[i]
		wpt := gpxWaypoint{
			Lat:  r.Latitude,
			Lon:  r.Longitude,
			Ele:  r.Altitude,
			Name: r.Species,
			Desc: describe(r),
		}
		if !r.CreatedAt.IsZero() {
			wpt.Time = r.CreatedAt.UTC().Format(time.RFC3339)
		}
		file.Waypoints = append(file.Waypoints, wpt)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return exportError(err, "gpx")
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(&file); err != nil {
		return exportError(err, "gpx")
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return exportError(err, "gpx")
	}
	return nil
}

func describe(r *RecordDoc) string {
	var lines []string
	if r.Variety != nil && *r.Variety != "" {
		lines = append(lines, descVariety+*r.Variety)
	}
	if r.Rootstock != nil && *r.Rootstock != "" {
		lines = append(lines, descRootstock+*r.Rootstock)
	}
	if r.Notes != "" {
		lines = append(lines, descNotes+r.Notes)
	}
	return strings.Join(lines, "\n")
}

// ReadGPX parses waypoints back into records. Descriptions written by
// WriteGPX are split back into labels; other descriptions, including HTML
// ones from third-party tools, become notes.
func ReadGPX(r io.Reader) ([]RecordDoc, error) {
	var file gpxFile
	if err := xml.NewDecoder(r).Decode(&file); err != nil {
		return nil, parseError(fmt.Errorf("decoding gpx: %w", err), "gpx", 0)
	}

	out := make([]RecordDoc, 0, len(file.Waypoints))
	for _, wpt := range file.Waypoints {
		rec := RecordDoc{
			Latitude:  wpt.Lat,
			Longitude: wpt.Lon,
			Altitude:  wpt.Ele,
			Species:   strings.TrimSpace(wpt.Name),
			CreatedAt: parseTime(strings.TrimSpace(wpt.Time)),
		}
		undescribe(&rec, wpt.Desc)
		out = append(out, rec)
	}
	return out, nil
}

// undescribe reverses describe. Labels are only recognized in the order
// describe writes them, and everything from the notes label on is note
// text. A description without any label is foreign and may be HTML.
func undescribe(rec *RecordDoc, desc string) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return
	}

	lines := strings.Split(desc, "\n")
	i := 0
	if strings.HasPrefix(lines[i], descVariety) {
		rec.Variety = optional(strings.TrimPrefix(lines[i], descVariety))
		i++
	}
	if i < len(lines) && strings.HasPrefix(lines[i], descRootstock) {
		rec.Rootstock = optional(strings.TrimPrefix(lines[i], descRootstock))
		i++
	}
	if i < len(lines) && strings.HasPrefix(lines[i], descNotes) {
		rec.Notes = strings.TrimSpace(strings.TrimPrefix(strings.Join(lines[i:], "\n"), descNotes))
		return
	}

	rest := strings.TrimSpace(strings.Join(lines[i:], "\n"))
	if i == 0 && htmlTag.MatchString(rest) {
		rest = strings.TrimSpace(html2text.HTML2Text(rest))
	}
	var loose []string
	for _, line := range strings.Split(rest, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			loose = append(loose, line)
		}
	}
	rec.Notes = strings.Join(loose, NotesSeparator)
}
