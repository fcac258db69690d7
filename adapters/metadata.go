package adapters

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// MetadataFile is the name of the adapter metadata file inside each snapshot
// directory. The field names follow the PEFT adapter_config.json convention,
// so snapshots interoperate with the Python tooling.
const MetadataFile = "adapter_config.json"

// Metadata identifies the base model an adapter was trained on and the
// adapter's shape. It is written next to every snapshot and read back on
// resume: the base model comes from here, never from a separate flag.
type Metadata struct {
	BaseModel     string   `json:"base_model_name_or_path"`
	Rank          int      `json:"r"`
	Alpha         float64  `json:"lora_alpha"`
	TargetModules []string `json:"target_modules"`
	TaskType      string   `json:"task_type,omitempty"`
}

// Config converts the metadata to an adapter Config.
func (m Metadata) Config() Config {
	return Config{
		Rank:          m.Rank,
		Alpha:         m.Alpha,
		TargetModules: m.TargetModules,
	}
}

// Validate checks the metadata describes a loadable adapter.
func (m Metadata) Validate() error {
	if m.BaseModel == "" {
		return errors.Errorf("adapter metadata has no base model")
	}
	if m.Rank <= 0 {
		return errors.Errorf("adapter metadata has invalid rank %d", m.Rank)
	}
	if len(m.TargetModules) == 0 {
		return errors.Errorf("adapter metadata lists no target modules")
	}
	return nil
}

// LoadMetadata reads and validates the adapter metadata in dir.
func LoadMetadata(dir string) (Metadata, error) {
	var m Metadata
	path := filepath.Join(dir, MetadataFile)
	contents, err := os.ReadFile(path)
	if err != nil {
		return m, errors.Wrapf(err, "failed to read adapter metadata %q", path)
	}
	if err = json.Unmarshal(contents, &m); err != nil {
		return m, errors.Wrapf(err, "failed to parse adapter metadata %q", path)
	}
	if err = m.Validate(); err != nil {
		return m, errors.WithMessagef(err, "invalid adapter metadata %q", path)
	}
	return m, nil
}

// Write saves the metadata to dir, creating it if needed.
func (m Metadata) Write(dir string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return errors.Wrapf(err, "failed to create snapshot directory %q", dir)
	}
	contents, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to serialize adapter metadata")
	}
	path := filepath.Join(dir, MetadataFile)
	if err = os.WriteFile(path, contents, 0o666); err != nil {
		return errors.Wrapf(err, "failed to write adapter metadata %q", path)
	}
	return nil
}
