package questions

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed bank.yaml
var defaultBankYAML []byte

// Bank is the static, read-only set of fallback questions.
type Bank struct {
	// Initial is delivered when the opening batch cannot be generated.
	Initial []string `yaml:"initial"`
	// Questions is scanned in order by Resolve.
	Questions []string `yaml:"questions"`
}

// DefaultBank returns the embedded bank.
func DefaultBank() *Bank {
	b, err := ParseBank(defaultBankYAML)
	if err != nil {
		panic("questions: embedded bank is invalid: " + err.Error())
	}
	return b
}

// LoadBank reads a bank from a YAML file. An empty path yields the default.
func LoadBank(path string) (*Bank, error) {
	if path == "" {
		return DefaultBank(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	return ParseBank(data)
}

// ParseBank decodes a YAML bank and checks it is usable.
func ParseBank(data []byte) (*Bank, error) {
	var b Bank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}
	if len(b.Questions) == 0 {
		return nil, fmt.Errorf("question bank has no questions")
	}
	if len(b.Initial) == 0 {
		b.Initial = b.Questions[:min(3, len(b.Questions))]
	}
	return &b, nil
}
