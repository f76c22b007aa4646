package song

import (
	"strconv"
	"strings"
	"time"
)

// FromAttrs decodes the key/value pairs MPD returns for one song
// (lsinfo, search, playlistinfo, listplaylistinfo).
//
// gompd collapses repeated keys, so a tag sent on several lines arrives as
// its last value only.
func FromAttrs(attrs map[string]string) Song {
	s := Song{
		Path:      attrs["file"],
		TagValues: make(map[Tag][]string),
		Format:    attrs["Format"],
		ID:        -1,
	}

	for key, value := range attrs {
		if value == "" {
			continue
		}
		if tag, ok := LookupTag(key); ok {
			s.TagValues[tag] = append(s.TagValues[tag], value)
		}
	}

	// duration carries millisecond precision, Time is the legacy integer field
	if d, err := strconv.ParseFloat(attrs["duration"], 64); err == nil {
		s.Length = time.Duration(d * float64(time.Second))
	} else if d, err := strconv.Atoi(attrs["Time"]); err == nil {
		s.Length = time.Duration(d) * time.Second
	}

	if prio, err := strconv.Atoi(attrs["Prio"]); err == nil {
		s.Prio = prio
	}
	if id, err := strconv.Atoi(attrs["Id"]); err == nil {
		s.ID = id
	}

	s.LastMod = parseTimestamp(attrs["Last-Modified"])
	s.AddedAt = parseTimestamp(attrs["Added"])
	if s.AddedAt.IsZero() {
		s.AddedAt = s.LastMod
	}

	return s
}

func parseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
