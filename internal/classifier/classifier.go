// Package classifier runs the three genre models: a metadata forest over
// popularity, an audio-feature forest over the 57-value vector and a small
// CNN over the spectrogram image.
//
// Models load lazily on first use. A missing, unreadable or malformed
// model is reported as a zero-confidence prediction, never as an error.
package classifier

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"auto-eq/internal/features"
	"auto-eq/internal/logging"
	"auto-eq/internal/models"
)

// TopN is the number of alternatives reported with a prediction.
const TopN = 3

var ErrNotTrained = errors.New("model not trained")

// Prediction is one model's answer. Confidence 0 means no prediction.
type Prediction struct {
	Genre        string
	Confidence   float64
	Top          []models.Alternative
	ModelVersion string
}

// Empty reports whether the prediction carries no answer.
func (p Prediction) Empty() bool { return p.Genre == "" || p.Confidence <= 0 }

func fromProba(classes []string, proba []float64, version string) Prediction {
	idx := make([]int, len(proba))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return proba[idx[a]] > proba[idx[b]] })

	p := Prediction{ModelVersion: version}
	for i, c := range idx {
		if i == TopN {
			break
		}
		p.Top = append(p.Top, models.Alternative{Genre: classes[c], Probability: proba[c]})
	}
	if len(p.Top) > 0 {
		p.Genre, p.Confidence = p.Top[0].Genre, p.Top[0].Probability
	}
	return p
}

type validator interface{ Validate() error }

// lazy loads a model file once; later calls share the result.
type lazy[T any] struct {
	path  string
	once  sync.Once
	model *T
	err   error
	log   zerolog.Logger
}

func (l *lazy[T]) get() (*T, error) {
	l.once.Do(func() {
		if l.path == "" {
			l.err = ErrNotTrained
			return
		}
		m := new(T)
		if err := readModel(l.path, m); err != nil {
			l.err = err
		} else if v, ok := any(m).(validator); ok {
			l.err = v.Validate()
		}
		if l.err != nil {
			l.log.Warn().Err(l.err).Str("path", l.path).Msg("model unavailable")
			return
		}
		l.model = m
		l.log.Info().Str("path", l.path).Msg("model loaded")
	})
	return l.model, l.err
}

// MetadataClassifier predicts a preset name straight from track metadata.
type MetadataClassifier struct {
	m lazy[Forest]
}

func NewMetadataClassifier(path string) *MetadataClassifier {
	return &MetadataClassifier{m: lazy[Forest]{path: path, log: logging.Component("classifier.metadata")}}
}

// Predict returns a preset name as the genre label.
func (c *MetadataClassifier) Predict(t models.Track) Prediction {
	f, err := c.m.get()
	if err != nil {
		return Prediction{}
	}
	proba, err := f.Proba([]float64{float64(t.Popularity)})
	if err != nil {
		c.m.log.Debug().Err(err).Msg("metadata predict")
		return Prediction{}
	}
	return fromProba(f.Classes, proba, versionOf(f.Version, c.m.path))
}

// AudioClassifier predicts a GTZAN genre from the feature vector.
type AudioClassifier struct {
	m lazy[Forest]
}

func NewAudioClassifier(path string) *AudioClassifier {
	return &AudioClassifier{m: lazy[Forest]{path: path, log: logging.Component("classifier.audio")}}
}

func (c *AudioClassifier) Predict(v features.Vector) Prediction {
	f, err := c.m.get()
	if err != nil {
		return Prediction{}
	}
	proba, err := f.Proba(v[:])
	if err != nil {
		c.m.log.Debug().Err(err).Msg("audio predict")
		return Prediction{}
	}
	return fromProba(f.Classes, proba, versionOf(f.Version, c.m.path))
}

// CNNClassifier predicts a GTZAN genre from the spectrogram image.
type CNNClassifier struct {
	m lazy[Network]
}

func NewCNNClassifier(path string) *CNNClassifier {
	return &CNNClassifier{m: lazy[Network]{path: path, log: logging.Component("classifier.cnn")}}
}

func (c *CNNClassifier) Predict(im features.Image) Prediction {
	n, err := c.m.get()
	if err != nil {
		return Prediction{}
	}
	proba, err := n.Forward(im.Channels, im.Height, im.Width, im.Data)
	if err != nil {
		c.m.log.Debug().Err(err).Msg("cnn predict")
		return Prediction{}
	}
	return fromProba(n.Labels, proba, versionOf(n.Version, c.m.path))
}

// Capability says whether a modality can be used at all.
type Capability int

const (
	Unavailable Capability = iota
	Available
)

func (c Capability) String() string {
	if c == Available {
		return "available"
	}
	return "unavailable"
}

type Capabilities struct {
	Metadata Capability
	Audio    Capability
	CNN      Capability
}

// Config names the model files. Relative names resolve against Dir.
type Config struct {
	Dir           string `koanf:"dir"`
	MetadataModel string `koanf:"metadata"`
	AudioModel    string `koanf:"audio"`
	CNNModel      string `koanf:"cnn"`
	DisableML     bool   `koanf:"disable"`
}

// Pool owns one classifier per modality.
type Pool struct {
	caps     Capabilities
	metadata *MetadataClassifier
	audio    *AudioClassifier
	cnn      *CNNClassifier
}

// NewPool checks model file presence once. Nothing is read until the
// first prediction.
func NewPool(cfg Config) *Pool {
	log := logging.Component("classifier")
	resolve := func(name string) (string, Capability) {
		if cfg.DisableML || name == "" {
			return "", Unavailable
		}
		if !filepath.IsAbs(name) && cfg.Dir != "" {
			name = filepath.Join(cfg.Dir, name)
		}
		if st, err := os.Stat(name); err != nil || st.IsDir() {
			log.Info().Str("path", name).Msg("model file not found")
			return "", Unavailable
		}
		return name, Available
	}

	meta, mc := resolve(cfg.MetadataModel)
	audio, ac := resolve(cfg.AudioModel)
	cnn, cc := resolve(cfg.CNNModel)
	p := &Pool{
		caps:     Capabilities{Metadata: mc, Audio: ac, CNN: cc},
		metadata: NewMetadataClassifier(meta),
		audio:    NewAudioClassifier(audio),
		cnn:      NewCNNClassifier(cnn),
	}
	log.Info().
		Stringer("metadata", mc).
		Stringer("audio", ac).
		Stringer("cnn", cc).
		Bool("disabled", cfg.DisableML).
		Msg("classifier pool ready")
	return p
}

func (p *Pool) Capabilities() Capabilities { return p.caps }

func (p *Pool) PredictMetadata(t models.Track) Prediction {
	if p.caps.Metadata == Unavailable {
		return Prediction{}
	}
	return p.metadata.Predict(t)
}

func (p *Pool) PredictAudio(v features.Vector) Prediction {
	if p.caps.Audio == Unavailable {
		return Prediction{}
	}
	return p.audio.Predict(v)
}

func (p *Pool) PredictImage(im features.Image) Prediction {
	if p.caps.CNN == Unavailable {
		return Prediction{}
	}
	return p.cnn.Predict(im)
}
