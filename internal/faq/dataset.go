package faq

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"faqbot/internal/domain"
)

// Dataset formats accepted by DecodeDataset.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FormatForFile maps a file name to a dataset format by extension.
// .txt files are read as JSON, as the upload form always allowed.
func FormatForFile(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".txt":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}

// DecodeDataset parses a list of {question, answer} records. Shape errors
// (not a list, non-object items, missing keys, non-string values) come back
// as *ValidationError; emptiness is checked later by Build.
func DecodeDataset(data []byte, format string) ([]domain.FAQItem, error) {
	var raw any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON format: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML format: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, &ValidationError{Index: -1, Reason: "FAQ data must be a list"}
	}
	items := make([]domain.FAQItem, 0, len(list))
	for i, v := range list {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, &ValidationError{Index: i, Reason: "each FAQ item must be an object"}
		}
		q, hasQ := obj["question"]
		a, hasA := obj["answer"]
		if !hasQ || !hasA {
			return nil, &ValidationError{Index: i, Reason: "each FAQ item must contain 'question' and 'answer' keys"}
		}
		qs, okQ := q.(string)
		as, okA := a.(string)
		if !okQ || !okA {
			reason := "question and answer must be strings"
			if format == FormatYAML {
				reason += `; quote values YAML reads as numbers, booleans or null, e.g. question: "123"`
			}
			return nil, &ValidationError{Index: i, Reason: reason}
		}
		items = append(items, domain.FAQItem{Question: qs, Answer: as})
	}
	return items, nil
}

// LoadFile reads and decodes a dataset file, picking the format from its extension.
func LoadFile(path string) ([]domain.FAQItem, error) {
	format, err := FormatForFile(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read FAQ dataset %s: %w", path, err)
	}
	return DecodeDataset(data, format)
}

// DefaultItems is the dataset served until one is configured or uploaded.
func DefaultItems() []domain.FAQItem {
	const uploadHelp = "You can upload a JSON file with FAQ data to help me better answer your questions. " +
		"The file should contain a list of question-answer pairs."
	return []domain.FAQItem{
		{Question: "Hello", Answer: "Hi, what can I assist you with?"},
		{Question: "Hi", Answer: "Hello! How may I help you today?"},
		{Question: "1", Answer: uploadHelp},
		{Question: "help", Answer: uploadHelp},
		{
			Question: "How do I use this?",
			Answer: "To get started, you can upload a JSON file containing your FAQ data. " +
				"The file should include questions and their corresponding answers.",
		},
	}
}
