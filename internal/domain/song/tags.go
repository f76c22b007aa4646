package song

import "strings"

// Tag is a canonical MPD tag name.
type Tag string

// Tags understood by MPD.
const (
	TagArtist                    Tag = "Artist"
	TagArtistSort                Tag = "ArtistSort"
	TagAlbum                     Tag = "Album"
	TagAlbumSort                 Tag = "AlbumSort"
	TagAlbumArtist               Tag = "AlbumArtist"
	TagAlbumArtistSort           Tag = "AlbumArtistSort"
	TagTitle                     Tag = "Title"
	TagTitleSort                 Tag = "TitleSort"
	TagTrack                     Tag = "Track"
	TagName                      Tag = "Name"
	TagGenre                     Tag = "Genre"
	TagMood                      Tag = "Mood"
	TagDate                      Tag = "Date"
	TagOriginalDate              Tag = "OriginalDate"
	TagComposer                  Tag = "Composer"
	TagComposerSort              Tag = "ComposerSort"
	TagPerformer                 Tag = "Performer"
	TagConductor                 Tag = "Conductor"
	TagWork                      Tag = "Work"
	TagMovement                  Tag = "Movement"
	TagMovementNumber            Tag = "MovementNumber"
	TagEnsemble                  Tag = "Ensemble"
	TagLocation                  Tag = "Location"
	TagGrouping                  Tag = "Grouping"
	TagComment                   Tag = "Comment"
	TagDisc                      Tag = "Disc"
	TagLabel                     Tag = "Label"
	TagMusicBrainzArtistID       Tag = "MUSICBRAINZ_ARTISTID"
	TagMusicBrainzAlbumID        Tag = "MUSICBRAINZ_ALBUMID"
	TagMusicBrainzAlbumArtistID  Tag = "MUSICBRAINZ_ALBUMARTISTID"
	TagMusicBrainzTrackID        Tag = "MUSICBRAINZ_TRACKID"
	TagMusicBrainzReleaseTrackID Tag = "MUSICBRAINZ_RELEASETRACKID"
	TagMusicBrainzWorkID         Tag = "MUSICBRAINZ_WORKID"
	TagMusicBrainzReleaseGroupID Tag = "MUSICBRAINZ_RELEASEGROUPID"
)

// TagAny is the pseudo tag matching any browsable tag.
const TagAny Tag = "any"

// TagNone disables tag based uniqueness.
const TagNone Tag = ""

// KnownTags lists every tag MPD can report, in protocol order.
var KnownTags = []Tag{
	TagArtist, TagArtistSort, TagAlbum, TagAlbumSort, TagAlbumArtist, TagAlbumArtistSort,
	TagTitle, TagTitleSort, TagTrack, TagName, TagGenre, TagMood, TagDate, TagOriginalDate,
	TagComposer, TagComposerSort, TagPerformer, TagConductor, TagWork, TagMovement,
	TagMovementNumber, TagEnsemble, TagLocation, TagGrouping, TagComment, TagDisc, TagLabel,
	TagMusicBrainzArtistID, TagMusicBrainzAlbumID, TagMusicBrainzAlbumArtistID,
	TagMusicBrainzTrackID, TagMusicBrainzReleaseTrackID, TagMusicBrainzWorkID,
	TagMusicBrainzReleaseGroupID,
}

// BrowseTags is the default set searched by the "any" pseudo tag.
var BrowseTags = []Tag{
	TagArtist, TagAlbumArtist, TagAlbum, TagTitle, TagGenre, TagComposer,
	TagPerformer, TagConductor, TagWork, TagDate, TagLabel,
}

var tagsByLowerName = func() map[string]Tag {
	m := make(map[string]Tag, len(KnownTags))
	for _, t := range KnownTags {
		m[strings.ToLower(string(t))] = t
	}
	return m
}()

// LookupTag resolves a tag name case-insensitively.
func LookupTag(name string) (Tag, bool) {
	t, ok := tagsByLowerName[strings.ToLower(name)]
	return t, ok
}

// ParseUniqueTag resolves the uniqueness tag setting. Empty strings and
// "none" disable the constraint.
func ParseUniqueTag(name string) (Tag, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "unknown":
		return TagNone, true
	}
	return LookupTag(name)
}
