package models

import (
	"fmt"
	"strings"
	"time"
)

// BandCount is the number of graphic EQ bands every preset carries.
const BandCount = 10

// BandFrequencies are the centre frequencies (Hz) of the ten bands, low to high.
var BandFrequencies = [BandCount]int{31, 62, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

// Bands holds gain in dB per band.
type Bands [BandCount]float64

type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artist     string   `json:"artist"`
	ArtistIDs  []string `json:"artist_ids,omitempty"`
	Album      string   `json:"album,omitempty"`
	Popularity int      `json:"popularity"`
	GenreTags  []string `json:"genre_tags,omitempty"`
	PreviewURL string   `json:"preview_url,omitempty"`
	YouTubeID  string   `json:"youtube_id,omitempty"`
	IsPlaying  bool     `json:"is_playing"`
	ProgressMs int      `json:"progress_ms"`

	// TagsPartial is set when some artist genre lookups failed.
	TagsPartial bool `json:"tags_partial,omitempty"`
}

func (t Track) String() string {
	return fmt.Sprintf("%s - %s", t.Artist, t.Name)
}

type EQPreset struct {
	Name  string `json:"name"`
	Bands Bands  `json:"bands"`
}

// Source identifies which stage produced a decision.
type Source int

const (
	SourceDefault Source = iota
	SourcePrimaryTags
	SourceLocalDataset
	SourceMetadata
	SourceAudioML
	SourceCNN
	SourceBlend
	SourceConfidenceGuard
)

var sourceNames = map[Source]string{
	SourceDefault:         "default",
	SourcePrimaryTags:     "primary_tags",
	SourceLocalDataset:    "local_dataset",
	SourceMetadata:        "metadata_model",
	SourceAudioML:         "audio_ml",
	SourceCNN:             "cnn",
	SourceBlend:           "blend",
	SourceConfidenceGuard: "confidence_guard",
}

func (s Source) String() string {
	if n, ok := sourceNames[s]; ok {
		return n
	}
	return "default"
}

// ParseSource maps a persisted label back to a Source. Unknown labels map to SourceDefault.
func ParseSource(s string) Source {
	s = strings.ToLower(strings.TrimSpace(s))
	for src, name := range sourceNames {
		if name == s {
			return src
		}
	}
	return SourceDefault
}

type Alternative struct {
	Genre       string  `json:"genre"`
	Probability float64 `json:"probability"`
}

// PredictionRecord is one cached decision for a track.
type PredictionRecord struct {
	TrackID         string        `json:"track_id"`
	TrackName       string        `json:"track_name"`
	Artist          string        `json:"artist"`
	Genre           string        `json:"genre_predicted"`
	Preset          string        `json:"preset"`
	Confidence      float64       `json:"confidence"`
	TopAlternatives []Alternative `json:"top_3"`
	Source          Source        `json:"source"`
	ModelVersion    string        `json:"model_version"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Decision is the resolver's output for one track.
type Decision struct {
	Preset       string        `json:"preset"`
	Genre        string        `json:"genre"`
	Confidence   float64       `json:"confidence"`
	Source       Source        `json:"source"`
	Bands        Bands         `json:"bands"`
	Custom       bool          `json:"custom"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	ModelVersion string        `json:"model_version,omitempty"`
	Reason       string        `json:"reason"`
	Cached       bool          `json:"cached"`
}
