package featureflags

import (
	"time"
)

// FeatureID identifies a known feature. The set is closed: new features are added
// here, and string input is converted only through ParseFeatureID.
type FeatureID string

// Known features.
const (
	FeatureRealtimeVoice     FeatureID = "realtime-voice"
	FeatureSemanticRetrieval FeatureID = "semantic-retrieval"
	FeatureSpacedRepetition  FeatureID = "spaced-repetition"
	FeatureMindMapping       FeatureID = "mind-mapping"
	FeatureQuizGeneration    FeatureID = "quiz-generation"
	FeatureFocusTimer        FeatureID = "focus-timer"
	FeatureGamification      FeatureID = "gamification"
	FeatureGuardianPortal    FeatureID = "guardian-portal"
	FeatureDocumentExport    FeatureID = "document-export"
	FeatureAmbientAudio      FeatureID = "ambient-audio"
)

type featureInfo struct {
	name        string
	description string
}

var knownFeatures = []FeatureID{
	FeatureRealtimeVoice,
	FeatureSemanticRetrieval,
	FeatureSpacedRepetition,
	FeatureMindMapping,
	FeatureQuizGeneration,
	FeatureFocusTimer,
	FeatureGamification,
	FeatureGuardianPortal,
	FeatureDocumentExport,
	FeatureAmbientAudio,
}

var featureCatalog = map[FeatureID]featureInfo{
	FeatureRealtimeVoice:     {"Realtime voice", "Live voice conversations with tutors"},
	FeatureSemanticRetrieval: {"Semantic retrieval", "Retrieval-augmented answers from study material"},
	FeatureSpacedRepetition:  {"Spaced repetition", "Flashcard scheduling and review"},
	FeatureMindMapping:       {"Mind mapping", "Generated mind maps for topics"},
	FeatureQuizGeneration:    {"Quiz generation", "Generated quizzes and practice questions"},
	FeatureFocusTimer:        {"Focus timer", "Pomodoro style study sessions"},
	FeatureGamification:      {"Gamification", "Points, streaks and achievements"},
	FeatureGuardianPortal:    {"Guardian portal", "Progress dashboard for parents and guardians"},
	FeatureDocumentExport:    {"Document export", "PDF export of study material"},
	FeatureAmbientAudio:      {"Ambient audio", "Background soundscapes during study"},
}

// KnownFeatures returns every known feature in a stable order.
func KnownFeatures() []FeatureID {
	out := make([]FeatureID, len(knownFeatures))
	copy(out, knownFeatures)
	return out
}

// Valid reports whether id is a known feature.
func (id FeatureID) Valid() bool {
	_, ok := featureCatalog[id]
	return ok
}

// ParseFeatureID converts untrusted input into a FeatureID.
func ParseFeatureID(s string) (FeatureID, bool) {
	id := FeatureID(s)
	if !id.Valid() {
		return "", false
	}
	return id, true
}

// DefaultFlag returns the default flag row for id: enabled, fully rolled out,
// no kill switch.
func DefaultFlag(id FeatureID, now time.Time) *Flag {
	info := featureCatalog[id]
	return &Flag{
		ID:                id,
		Name:              info.name,
		Description:       info.description,
		Status:            StatusEnabled,
		EnabledPercentage: 100,
		KillSwitch:        false,
		Metadata:          map[string]string{},
		UpdatedAt:         now,
		UpdatedBy:         "system",
	}
}

// DefaultFlags returns the default flags for every known feature, stamped now.
func DefaultFlags(now time.Time) map[FeatureID]*Flag {
	flags := make(map[FeatureID]*Flag, len(knownFeatures))
	for _, id := range knownFeatures {
		flags[id] = DefaultFlag(id, now)
	}
	return flags
}
