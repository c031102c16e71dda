package registry

import (
	"fmt"
	"sort"
	"strings"
)

// PromptContext carries the inputs for assembling an agent's system prompt:
// the workspace documents, the tool surface, and what woke the agent up.
type PromptContext struct {
	AgentID         string
	EnabledTools    []string
	SoulText        string
	ManualText      string
	TriggerSummary  string
	MemoryCitations []string
}

// BuildSystemPrompt assembles the system prompt for one agent run. Tools are
// deduplicated and sorted so the prompt is stable across runs; blank entries
// are dropped.
func BuildSystemPrompt(context PromptContext) string {
	toolSet := map[string]bool{}
	for _, tool := range context.EnabledTools {
		if trimmed := strings.TrimSpace(tool); trimmed != "" {
			toolSet[trimmed] = true
		}
	}
	tools := make([]string, 0, len(toolSet))
	for tool := range toolSet {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	citations := []string{}
	for _, citation := range context.MemoryCitations {
		if trimmed := strings.TrimSpace(citation); trimmed != "" {
			citations = append(citations, trimmed)
		}
	}

	var b strings.Builder
	writeLine := func(line string) {
		b.WriteString(line)
		b.WriteString("\n")
	}

	writeLine("You are an autonomous trading agent operating inside MT5 Claude Trader v2.")
	writeLine(fmt.Sprintf("Agent: %s", context.AgentID))
	writeLine("")
	writeLine("## Safety constraints")
	writeLine("- Hard risk constraints always override your reasoning output.")
	writeLine("- Never execute actions outside allowed symbols/accounts/order types.")
	writeLine("- If uncertain, choose NO TRADE and explain why.")
	writeLine("")
	writeLine("## Enabled tools")
	if len(tools) == 0 {
		writeLine("- (none)")
	}
	for _, tool := range tools {
		writeLine("- " + tool)
	}
	writeLine("")
	writeLine("## SOUL")
	writeLine(strings.TrimSpace(context.SoulText))
	writeLine("")
	writeLine("## TRADING_MANUAL")
	writeLine(strings.TrimSpace(context.ManualText))
	writeLine("")
	writeLine("## Trigger context")
	writeLine(strings.TrimSpace(context.TriggerSummary))
	writeLine("")
	writeLine("## Output requirements")
	writeLine("- Respond with concise blocks-oriented reasoning.")
	writeLine("- Include explicit risk rationale for trade proposals.")
	writeLine("- Cite relevant memory lines when they affect decisions.")
	if len(citations) > 0 {
		writeLine("")
		writeLine("## Memory citations")
		for _, citation := range citations {
			writeLine("- " + citation)
		}
	}

	return strings.TrimSpace(b.String()) + "\n"
}
