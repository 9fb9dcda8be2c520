package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
)

// policyFile is the on-disk layout of LEDGER_POLICY_FILE:
//
//	status_policy:
//	  late_limit: 5
//	  approaching_band: 2
//	  grace_allowance: 4
//	  alert_threshold: 12
//	  faculty_alert_after: 7
type policyFile struct {
	StatusPolicy ledger.Policy `yaml:"status_policy"`
}

// LoadPolicy reads a status policy from a YAML file. Keys left out keep
// their default values. Unknown keys are rejected.
func LoadPolicy(path string) (ledger.Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return ledger.Policy{}, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()

	return ParsePolicy(f)
}

// ParsePolicy decodes and validates a status policy document.
func ParsePolicy(r io.Reader) (ledger.Policy, error) {
	doc := policyFile{StatusPolicy: ledger.DefaultPolicy()}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return ledger.Policy{}, fmt.Errorf("parse policy file: %w", err)
	}

	if err := doc.StatusPolicy.Validate(); err != nil {
		return ledger.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return doc.StatusPolicy, nil
}
