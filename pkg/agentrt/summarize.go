package agentrt

import (
	"context"
	"fmt"

	"github.com/sreops/operator/pkg/audit"
)

// Summarize invokes a (typically cheaper) provider at session end to
// produce a concise recap, written as a `summary` audit entry. Per spec.md
// §4.5, absence of a summary is not a failure: callers should log and
// continue past a Summarize error rather than fail the session over it.
func Summarize(ctx context.Context, provider Provider, store *audit.Store, sessionID string, transcript string) error {
	resp, err := provider.Respond(ctx, "Summarize this SRE agent session in 3-5 sentences.", nil,
		[]Message{{Role: RoleUser, Content: []ContentBlock{{Type: "text", Text: transcript}}}})
	if err != nil {
		return fmt.Errorf("agentrt: summarize session %s: %w", sessionID, err)
	}

	var text string
	for _, c := range resp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	_, err = store.Append(ctx, sessionID, audit.RoleAssistant, audit.KindSummary, []byte(fmt.Sprintf("%q", text)), "", nil, nil)
	return err
}
