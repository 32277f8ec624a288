package agentrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sreops/operator/pkg/audit"
)

// ErrProviderUnreachable is the terminal error when the provider retry
// budget is exhausted.
var ErrProviderUnreachable = errors.New("agentrt: provider unreachable")

// ShellToolName is the single tool exposed to the model.
const ShellToolName = "shell"

func shellToolSchema() ToolSchema {
	return ToolSchema{
		Name:        ShellToolName,
		Description: "Execute a shell command inside the agent's sandbox container.",
		InputSchema: map[string]any{
			"properties": map[string]any{
				"command":   map[string]any{"type": "string", "description": "the shell command to run"},
				"reasoning": map[string]any{"type": "string", "description": "why this command is being run"},
			},
			"required": []string{"command", "reasoning"},
		},
	}
}

// Config bounds one conversation session.
type Config struct {
	Provider     Provider
	Audit        *audit.Store
	SessionID    string
	System       string
	MaxTurns     int // 0 = unbounded (cap enforced by caller's deadline instead)
	ShellTimeout time.Duration
	Logger       *slog.Logger
}

// Run drives the tool-calling conversation loop described in spec.md
// §4.5 to termination: the model returns no tool calls, the turn cap is
// reached, or ctx is cancelled (harness timeout). All audit entries are
// flushed (synchronously, per call) before Run returns.
func Run(ctx context.Context, cfg Config, initialContext string) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", cfg.SessionID)

	messages := []Message{{Role: RoleUser, Content: []ContentBlock{{Type: "text", Text: initialContext}}}}
	tools := []ToolSchema{shellToolSchema()}

	turns := 0
	for {
		if cfg.MaxTurns > 0 && turns >= cfg.MaxTurns {
			logger.Info("agent session ending: turn cap reached", "turns", turns)
			return nil
		}
		if err := ctx.Err(); err != nil {
			logger.Warn("agent session ending: context cancelled", "error", err)
			return err
		}
		turns++

		resp, err := respondWithRetry(ctx, cfg.Provider, cfg.System, tools, messages, logger)
		if err != nil {
			return err
		}

		if err := logAssistantTurn(ctx, cfg.Audit, cfg.SessionID, resp); err != nil {
			return fmt.Errorf("agentrt: audit write failed, terminating session: %w", err)
		}

		calls := resp.ToolUses()
		if len(calls) == 0 {
			return nil
		}

		var resultBlocks []ContentBlock
		for _, call := range calls {
			command, _ := call.ToolInput["command"].(string)
			reasoning, _ := call.ToolInput["reasoning"].(string)

			if err := logToolCall(ctx, cfg.Audit, cfg.SessionID, call, command, reasoning); err != nil {
				return fmt.Errorf("agentrt: audit write failed, terminating session: %w", err)
			}

			result := Shell(ctx, command, reasoning, cfg.ShellTimeout)

			if err := logToolResult(ctx, cfg.Audit, cfg.SessionID, call.ToolUseID, result); err != nil {
				return fmt.Errorf("agentrt: audit write failed, terminating session: %w", err)
			}

			serialized, _ := json.Marshal(result)
			resultBlocks = append(resultBlocks, ContentBlock{
				Type:            "tool_result",
				ToolResultForID: call.ToolUseID,
				ToolResultText:  string(serialized),
			})
		}

		messages = append(messages, Message{Role: RoleAssistant, Content: resp.Content})
		messages = append(messages, Message{Role: RoleUser, Content: resultBlocks})
	}
}

// respondWithRetry retries transport failures with jittered exponential
// backoff up to 3 attempts.
func respondWithRetry(ctx context.Context, p Provider, system string, tools []ToolSchema, messages []Message, logger *slog.Logger) (Response, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := p.Respond(ctx, system, tools, messages)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		logger.Warn("provider call failed", "attempt", attempt+1, "error", err)

		if attempt == maxAttempts-1 {
			break
		}
		backoff := time.Duration(1<<attempt) * 500 * time.Millisecond
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return Response{}, fmt.Errorf("%w: %v", ErrProviderUnreachable, lastErr)
}

func logAssistantTurn(ctx context.Context, store *audit.Store, sessionID string, resp Response) error {
	payload, _ := json.Marshal(resp.Content)
	_, err := store.Append(ctx, sessionID, audit.RoleAssistant, audit.KindMessage, payload, "", nil, nil)
	return err
}

func logToolCall(ctx context.Context, store *audit.Store, sessionID string, call ContentBlock, command, reasoning string) error {
	params, _ := json.Marshal(map[string]string{"command": command, "reasoning": reasoning})
	payload, _ := json.Marshal(map[string]string{"tool_use_id": call.ToolUseID})
	_, err := store.Append(ctx, sessionID, audit.RoleTool, audit.KindToolCall, payload, call.ToolName, params, nil)
	return err
}

func logToolResult(ctx context.Context, store *audit.Store, sessionID, toolUseID string, result ShellResult) error {
	resultJSON, _ := json.Marshal(result)
	payload, _ := json.Marshal(map[string]string{"tool_use_id": toolUseID})
	_, err := store.Append(ctx, sessionID, audit.RoleTool, audit.KindToolResult, payload, ShellToolName, nil, resultJSON)
	return err
}
