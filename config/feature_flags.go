package config

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// FeatureFlags manages feature toggles with percentage rollout.
// Users are bucketed by a hash of their id so a user keeps the same answer.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent (0-100) of users that see the feature.
	RolloutPercent int
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	UserID string
}

// Predefined feature flag names.
const (
	// Study assistant
	FeatureAssistantChat       = "assistant.chat"       // answer chat with the generator instead of canned replies
	FeatureAssistantFlashcards = "assistant.flashcards" // generate flashcard decks

	// Realtime
	FeatureProgressStream = "realtime.progress_stream" // server-sent progress events
	FeatureMilestoneFeed  = "realtime.feed"            // level-up, achievement and streak feed
	FeatureRedisEvents    = "realtime.redis_events"    // fan out domain events across instances

	// Observability
	FeatureMetrics = "observability.metrics" // serve /metrics
)

// LoadFeatureFlags builds the flags from defaults and v. Each flag is
// overridden by FEATURES_<NAME> with "." replaced by "_", e.g.
// FEATURES_ASSISTANT_CHAT=false or FEATURES_ASSISTANT_CHAT=25 for a 25% rollout.
// v may be nil.
func LoadFeatureFlags(v *viper.Viper) *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	ff.initializeDefaults()
	if v != nil {
		ff.loadFrom(v)
	}
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	defaults := []*Feature{
		{Name: FeatureAssistantChat, Description: "Answer chat messages with the text generator", Enabled: true, RolloutPercent: 100},
		{Name: FeatureAssistantFlashcards, Description: "Generate flashcard decks", Enabled: true, RolloutPercent: 100},
		{Name: FeatureProgressStream, Description: "Stream progress changes to clients", Enabled: true, RolloutPercent: 100},
		{Name: FeatureMilestoneFeed, Description: "Record milestones in the user's feed", Enabled: true, RolloutPercent: 100},
		{Name: FeatureRedisEvents, Description: "Publish domain events through Redis", Enabled: false, RolloutPercent: 0},
		{Name: FeatureMetrics, Description: "Expose Prometheus metrics", Enabled: true, RolloutPercent: 100},
	}
	for _, f := range defaults {
		ff.features[f.Name] = f
	}
}

// loadFrom applies overrides. Unparseable values are ignored.
func (ff *FeatureFlags) loadFrom(v *viper.Viper) {
	for name, feature := range ff.features {
		raw := strings.TrimSpace(v.GetString(featureKey(name)))
		if raw == "" {
			continue
		}
		if b, err := strconv.ParseBool(raw); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}
		if pct, err := strconv.Atoi(strings.TrimSuffix(raw, "%")); err == nil && pct >= 0 && pct <= 100 {
			feature.RolloutPercent = pct
			feature.Enabled = pct > 0
		}
	}
}

// featureKey converts "assistant.chat" to the viper key "features.assistant_chat"
// (env FEATURES_ASSISTANT_CHAT).
func featureKey(name string) string {
	return "features." + strings.ReplaceAll(name, ".", "_")
}

// IsEnabled checks if a feature is enabled for the given context. A nil
// context asks whether the feature is on at all.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}
	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != "" {
		return inRollout(ctx.UserID, featureName, feature.RolloutPercent)
	}
	return feature.RolloutPercent > 0
}

// inRollout maps user+feature to a stable 0-99 bucket.
func inRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]Feature, len(ff.features))
	for k, v := range ff.features {
		result[k] = *v
	}
	return result
}

// Summary lists every feature as "name=percent%", sorted by name, for the startup log.
func (ff *FeatureFlags) Summary() []string {
	all := ff.GetAllFeatures()
	out := make([]string, 0, len(all))
	for name, f := range all {
		pct := f.RolloutPercent
		if !f.Enabled {
			pct = 0
		}
		out = append(out, name+"="+strconv.Itoa(pct)+"%")
	}
	sort.Strings(out)
	return out
}
