package config

import (
	"errors"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles for the ledger engine.
// Flags are read from FEATURE_<NAME> environment variables, where the name
// is upper-cased and dots become underscores. A value is either a boolean
// or a rollout percentage 0-100. FEATURE_<NAME>_BRANCHES restricts a flag
// to a comma-separated branch list.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// rollOverrides pin a flag for one roll number.
	rollOverrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent enables the flag for a stable share of students,
	// bucketed by a hash of the roll number.
	RolloutPercent int

	// TargetBranches limits the flag to these branches. Empty means all.
	TargetBranches []string
}

// FeatureContext identifies the student a flag is evaluated for.
type FeatureContext struct {
	RollNo string
	Branch string
}

const (
	// FeatureSameDayGuard rejects a second late mark on one calendar day.
	FeatureSameDayGuard = "ledger.same_day_guard"

	// FeatureRedisLock serializes writers per student through Redis.
	FeatureRedisLock = "ledger.redis_lock"

	// FeatureSnapshotCache serves ledger reads from the Redis snapshot cache.
	FeatureSnapshotCache = "ledger.snapshot_cache"

	// FeatureFacultyAlerts forwards faculty alerts to the notifier.
	FeatureFacultyAlerts = "alerts.faculty"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// LoadFeatureFlags creates flags with defaults and applies the environment.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags creates flags with default values only.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		rollOverrides: make(map[string]map[string]bool),
	}
	for _, f := range []Feature{
		{
			Name:        FeatureSameDayGuard,
			Description: "Reject a late mark when the student already has one for that day",
		},
		{
			Name:           FeatureRedisLock,
			Description:    "Serialize writers per student with a Redis lock",
			Enabled:        true,
			RolloutPercent: 100,
		},
		{
			Name:           FeatureSnapshotCache,
			Description:    "Read ledgers through the Redis snapshot cache",
			Enabled:        true,
			RolloutPercent: 100,
		},
		{
			Name:           FeatureFacultyAlerts,
			Description:    "Notify faculty when a student crosses the alert threshold",
			Enabled:        true,
			RolloutPercent: 100,
		},
	} {
		f := f
		ff.features[f.Name] = &f
	}
	return ff
}

func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		key := featureNameToEnvKey(name)
		if branches := os.Getenv(key + "_BRANCHES"); branches != "" {
			feature.TargetBranches = splitList(branches)
		}

		val := os.Getenv(key)
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			feature.RolloutPercent = 0
			if b {
				feature.RolloutPercent = 100
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsEnabled reports whether a flag is on, globally (ctx nil) or for one
// student.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.RollNo != "" {
		if overrides, ok := ff.rollOverrides[ctx.RollNo]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if len(feature.TargetBranches) > 0 && ctx != nil && ctx.Branch != "" {
		matched := false
		for _, b := range feature.TargetBranches {
			if strings.EqualFold(b, ctx.Branch) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.RollNo != "" {
		return inRollout(ctx.RollNo, featureName, feature.RolloutPercent)
	}
	return feature.RolloutPercent > 0
}

// Enabled is IsEnabled for one student.
func (ff *FeatureFlags) Enabled(featureName, rollNo, branch string) bool {
	return ff.IsEnabled(featureName, &FeatureContext{RollNo: rollNo, Branch: branch})
}

func inRollout(rollNo, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(rollNo))
	return int(h.Sum32()%100) < percent
}

// SetRollOverride pins a flag for one roll number.
func (ff *FeatureFlags) SetRollOverride(rollNo, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.rollOverrides[rollNo]; !ok {
		ff.rollOverrides[rollNo] = make(map[string]bool)
	}
	ff.rollOverrides[rollNo][featureName] = enabled
}

// ClearRollOverrides removes all overrides of one roll number.
func (ff *FeatureFlags) ClearRollOverrides(rollNo string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.rollOverrides, rollNo)
}

// SetRolloutPercent changes a flag's rollout at runtime.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// SetTargetBranches limits a flag to the given branches. No branches
// removes the restriction.
func (ff *FeatureFlags) SetTargetBranches(featureName string, branches ...string) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.TargetBranches = splitList(strings.Join(branches, ","))
	return nil
}

func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// Features returns a copy of all flags sorted by name.
func (ff *FeatureFlags) Features() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		c := *f
		c.TargetBranches = append([]string(nil), f.TargetBranches...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
