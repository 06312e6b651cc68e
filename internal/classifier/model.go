package classifier

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Model files are JSON or MessagePack with the same field names; the format
// is chosen by extension.
const structTag = "json"

func isMsgpack(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk", ".mp":
		return true
	}
	return false
}

func readModel(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	if isMsgpack(path) {
		dec := msgpack.NewDecoder(bytes.NewReader(raw))
		dec.SetCustomStructTag(structTag)
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteModel stores a forest or CNN model in the format implied by path.
func WriteModel(path string, v any) error {
	var raw []byte
	if isMsgpack(path) {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag(structTag)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode model: %w", err)
		}
		raw = buf.Bytes()
	} else {
		var err error
		if raw, err = json.Marshal(v); err != nil {
			return fmt.Errorf("encode model: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

func versionOf(declared, path string) string {
	if declared != "" {
		return declared
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// Model kinds reported by ConvertModel.
const (
	KindForest = "forest"
	KindCNN    = "cnn"
)

// ConvertModel validates the model at src and re-encodes it in the format
// implied by dst, e.g. a JSON export to MessagePack.
func ConvertModel(src, dst string) (kind string, err error) {
	var f Forest
	if err := readModel(src, &f); err == nil && f.Validate() == nil {
		return KindForest, WriteModel(dst, &f)
	}
	var n Network
	if err := readModel(src, &n); err != nil {
		return "", err
	}
	if err := n.Validate(); err != nil {
		return "", fmt.Errorf("%s is neither a forest nor a cnn: %w", filepath.Base(src), err)
	}
	return KindCNN, WriteModel(dst, &n)
}
