// Package dataset reads (ref, text) records from YAML or JSON files.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

var ErrInvalidDataset = errors.New("invalid dataset")

// Record is a single input item.
type Record struct {
	Ref  string `json:"ref" yaml:"ref"`
	Text string `json:"text" yaml:"text"`
}

type rawRecord struct {
	Ref         string `mapstructure:"ref"`
	ID          string `mapstructure:"id"`
	Text        string `mapstructure:"text"`
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
}

// Load reads records from path. JSON is accepted since it is valid YAML.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset %q: %w", path, err)
	}

	records, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", path, err)
	}
	return records, nil
}

// Parse decodes a list of records. Items are either {ref|id, text} or
// {ref|id, title, description}; the latter are joined with a newline.
// Texts are kept as is so that empty ones surface as per-item failures.
func Parse(data []byte) ([]Record, error) {
	var items []map[string]any
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataset, err)
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		var raw rawRecord
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &raw,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(item); err != nil {
			return nil, fmt.Errorf("%w: item %d: %w", ErrInvalidDataset, i, err)
		}

		ref := strings.TrimSpace(raw.Ref)
		if ref == "" {
			ref = strings.TrimSpace(raw.ID)
		}
		if ref == "" {
			return nil, fmt.Errorf("%w: item %d has no ref or id", ErrInvalidDataset, i)
		}

		text := raw.Text
		if text == "" && (raw.Title != "" || raw.Description != "") {
			text = strings.TrimSpace(raw.Title + "\n" + raw.Description)
		}

		records = append(records, Record{Ref: ref, Text: text})
	}

	return records, nil
}

// Texts returns the text of every record in order.
func Texts(records []Record) []string {
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	return texts
}
