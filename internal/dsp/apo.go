package dsp

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"auto-eq/internal/logging"
	"auto-eq/internal/models"
	"auto-eq/internal/presets"
)

// Equalizer APO file names inside its config directory.
const (
	APOIncludeFile = "aria_eq.txt"
	APOMainConfig  = "config.txt"
)

// APOWriter writes the software EQ for Equalizer APO. The main config is
// given an Include line for the generated file when it lacks one.
type APOWriter struct {
	dir string
	now func() time.Time
	log zerolog.Logger
}

// APOStatus describes the Equalizer APO installation.
type APOStatus struct {
	Installed    bool   `json:"installed"`
	ConfigExists bool   `json:"config_exists"`
	Included     bool   `json:"included"`
	ConfigPath   string `json:"config_path"`
}

func NewAPOWriter(dir string) *APOWriter {
	return &APOWriter{dir: dir, now: time.Now, log: logging.Component("apo")}
}

func (w *APOWriter) includeLine() string { return "Include: " + APOIncludeFile }

// Apply writes bands under the preset name. It fails when the APO config
// directory does not exist.
func (w *APOWriter) Apply(name string, bands models.Bands) error {
	if st, err := os.Stat(w.dir); err != nil || !st.IsDir() {
		return fmt.Errorf("equalizer apo not found at %s", w.dir)
	}

	filters, err := presets.Format(bands, presets.FormatEqualizerAPO)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Auto EQ\n# Preset: %s\n# Generated: %s\n\n", name, w.now().Format("2006-01-02 15:04:05"))
	b.WriteString(filters)
	if err := os.WriteFile(filepath.Join(w.dir, APOIncludeFile), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write eq file: %w", err)
	}

	cfgPath := filepath.Join(w.dir, APOMainConfig)
	included, err := containsLine(cfgPath, APOIncludeFile)
	if err == nil && !included {
		f, err := os.OpenFile(cfgPath, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			w.log.Warn().Err(err).Str("line", w.includeLine()).Msg("add the include line to config.txt by hand")
		} else {
			fmt.Fprintf(f, "\n%s\n", w.includeLine())
			f.Close()
			w.log.Info().Str("config", cfgPath).Msg("include added to equalizer apo config")
		}
	}
	w.log.Debug().Str("preset", name).Msg("software eq written")
	return nil
}

// Status reports whether APO is installed, our file exists and the main
// config includes it.
func (w *APOWriter) Status() APOStatus {
	s := APOStatus{ConfigPath: w.dir}
	if st, err := os.Stat(w.dir); err != nil || !st.IsDir() {
		return s
	}
	s.Installed = true
	if _, err := os.Stat(filepath.Join(w.dir, APOIncludeFile)); err == nil {
		s.ConfigExists = true
	}
	s.Included, _ = containsLine(filepath.Join(w.dir, APOMainConfig), APOIncludeFile)
	return s
}

func containsLine(path, needle string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.Contains(sc.Text(), needle) {
			return true, nil
		}
	}
	return false, sc.Err()
}
