package compress

import (
	"strings"

	"github.com/eldtechnologies/agora/internal/models"
)

// Importance weights. The sum of every boost can exceed 1; scores are clamped.
const (
	baseScore      = 0.3
	mentionBoost   = 0.3
	questionBoost  = 0.2
	replyBoost     = 0.1
	newMemberBoost = 0.1
	minImportance  = 0.0
	maxImportance  = 1.0
)

// Scorer assigns a heuristic relevance score in [0,1] to a message from
// the point of view of one agent.
type Scorer struct {
	// NewMembers, when set, boosts messages written by recently joined
	// identities.
	NewMembers map[string]bool
}

// Score rates msg for the agent named self.
func (s Scorer) Score(msg models.Message, self string) float64 {
	score := baseScore
	if msg.Mentions(self) {
		score += mentionBoost
	}
	if strings.ContainsAny(msg.Body, "?？") {
		score += questionBoost
	}
	if msg.ParentID != "" {
		score += replyBoost
	}
	if s.NewMembers[msg.From] {
		score += newMemberBoost
	}
	return clamp(score, minImportance, maxImportance)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
