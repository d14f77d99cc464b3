package rbac

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type tableFile struct {
	Roles []roleEntry `yaml:"roles" validate:"required,min=1,dive"`
}

type roleEntry struct {
	Name        string   `yaml:"name" validate:"required"`
	Label       string   `yaml:"label" validate:"omitempty,max=64"`
	Level       int      `yaml:"level" validate:"gte=0"`
	Permissions []string `yaml:"permissions" validate:"dive,required"`
}

// LoadTable reads a YAML role table from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: read role table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML role table.
func ParseTable(data []byte) (*Table, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var file tableFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidTable, err)
	}
	if err := validator.New().Struct(file); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %s failed %s", ErrInvalidTable, verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}

	descriptors := make([]Descriptor, 0, len(file.Roles))
	for _, entry := range file.Roles {
		role, err := ParseRole(entry.Name)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, Descriptor{
			Role:        role,
			Label:       entry.Label,
			Level:       entry.Level,
			Permissions: entry.Permissions,
		})
	}
	return NewTable(descriptors)
}
