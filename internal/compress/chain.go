package compress

import "github.com/eldtechnologies/agora/internal/models"

// DefaultChainDepth bounds how far a reply chain is followed.
const DefaultChainDepth = 5

// IndexByID builds a lookup table for TraceReplyChain. Later entries with
// the same id win.
func IndexByID(msgs []models.Message) map[string]models.Message {
	idx := make(map[string]models.Message, len(msgs))
	for _, m := range msgs {
		idx[m.ID] = m
	}
	return idx
}

// TraceReplyChain follows parent references starting at startID and
// returns the chain oldest-first, start message included. The walk stops
// on a missing parent, on a message already visited, or after maxDepth
// messages, so cyclic reply graphs terminate.
func TraceReplyChain(index map[string]models.Message, startID string, maxDepth int) []models.Message {
	if maxDepth <= 0 {
		maxDepth = DefaultChainDepth
	}
	visited := make(map[string]bool, maxDepth)
	var chain []models.Message

	id := startID
	for id != "" && len(chain) < maxDepth {
		if visited[id] {
			break
		}
		msg, ok := index[id]
		if !ok {
			break
		}
		visited[id] = true
		chain = append(chain, msg)
		id = msg.ParentID
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
