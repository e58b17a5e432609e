// Package catalog loads the dataset list (name, service URL, service type) from a JSON or TOML file.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
)

type entry struct {
	Name string `json:"name" toml:"name" validate:"required"`
	URL  string `json:"url" toml:"url" validate:"required,http_url"`
	Type string `json:"type" toml:"type" validate:"required,oneof=WFS WMS"`
}

type file struct {
	Datasets []entry `json:"datasets" toml:"datasets" validate:"required,min=1,unique=Name,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads path; the format follows the extension (.toml, anything else is JSON).
func Load(path string) ([]model.Dataset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(b)
	}
	return ParseJSON(b)
}

// ParseJSON accepts {"datasets":[{"name":..,"url":..,"type":..}]}.
func ParseJSON(b []byte) ([]model.Dataset, error) {
	var f file
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode catalog json: %w", err)
	}
	return f.datasets()
}

// ParseTOML accepts one [[datasets]] table per dataset.
func ParseTOML(b []byte) ([]model.Dataset, error) {
	var f file
	if _, err := toml.Decode(string(b), &f); err != nil {
		return nil, fmt.Errorf("decode catalog toml: %w", err)
	}
	return f.datasets()
}

func (f file) datasets() ([]model.Dataset, error) {
	for i := range f.Datasets {
		e := &f.Datasets[i]
		e.Name = strings.TrimSpace(e.Name)
		e.URL = strings.TrimSpace(e.URL)
		e.Type = strings.ToUpper(strings.TrimSpace(e.Type))
	}
	if err := validate.Struct(f); err != nil {
		return nil, describe(err)
	}

	out := make([]model.Dataset, 0, len(f.Datasets))
	for _, e := range f.Datasets {
		t, err := model.ParseServiceType(e.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Dataset{Name: e.Name, URL: e.URL, Type: t})
	}
	return out, nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid catalog: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid catalog: %s", strings.Join(msgs, "; "))
}

// Names lists dataset names in catalog order.
func Names(ds []model.Dataset) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Name)
	}
	return out
}

// Lookup finds a dataset by name.
func Lookup(ds []model.Dataset, name string) (model.Dataset, bool) {
	for _, d := range ds {
		if d.Name == name {
			return d, true
		}
	}
	return model.Dataset{}, false
}
