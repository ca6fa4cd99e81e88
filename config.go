package httpblinds

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads the configuration file at path. Files ending with .yaml or
// .yml are parsed as YAML, anything else as JSON.
func LoadConfig(path string) (*HttpBlinds, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed reading config file %s", path)
	}

	return ParseConfig(raw, filepath.Ext(path))
}

func ParseConfig(raw []byte, ext string) (hb *HttpBlinds, err error) {
	hb = &HttpBlinds{}

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, hb)
		if err != nil {
			return nil, errors.Wrap(err, "failed unmarshalling yaml config")
		}
	default:
		err = json.Unmarshal(raw, hb)
		if err != nil {
			return nil, errors.Wrap(err, "failed unmarshalling json config")
		}
	}

	return hb, nil
}
