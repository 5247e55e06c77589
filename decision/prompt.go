// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package decision

import (
	"fmt"
	"strings"

	"github.com/KavyaMunusamy/LiveDataRag/history"
)

// historyPromptLimit bounds how many recent actions the prompt embeds
const historyPromptLimit = 5

const decisionSystemPrompt = `You are an autonomous action decision engine.
Your goal is to determine when automated actions should be taken based on real-time data.

GUIDELINES:
1. Safety first: Never suggest actions that could cause harm, financial loss, or privacy violations
2. Clear justification: Every decision must have a clear, logical reason
3. Consider timing: Some actions are only valid at certain times
4. Respect limits: Don't suggest actions that exceed system capabilities

You have access to real-time data and historical context. Make decisions that balance
responsiveness with caution.`

func buildDecisionPrompt(query, contextText string, historical []*history.Record) string {
	var historyText strings.Builder
	if len(historical) > 0 {
		recent := historical
		if len(recent) > historyPromptLimit {
			recent = recent[:historyPromptLimit]
		}
		historyText.WriteString("RECENT ACTIONS:\n")
		for _, rec := range recent {
			outcome := string(rec.Status)
			if rec.Error != "" {
				outcome = fmt.Sprintf("%s (%s)", rec.Status, rec.Error)
			}
			fmt.Fprintf(&historyText, "- %s: %s\n", rec.Type, outcome)
		}
	}

	return fmt.Sprintf(`Analyze this situation and decide if autonomous action should be taken.

USER QUERY: %s

REAL-TIME CONTEXT: %s

%s
DECISION CRITERIA:
1. URGENCY: Is this time-sensitive? Would delay cause negative impact?
2. CONFIDENCE: Do we have clear, recent data to make a decision?
3. IMPACT: What's the potential benefit vs risk?
4. PRECEDENT: Have similar situations required action before?
5. SAFETY: Any potential for harm or negative consequences?

POSSIBLE ACTION TYPES (only suggest if clearly appropriate):
- "alert": Send notification (email, SMS, Slack)
- "data_update": Update database or record
- "api_call": Call external API
- "workflow_trigger": Start another process
- "none": No action needed

Return JSON with this structure:
{
    "action_required": boolean,
    "action_type": string (from above list),
    "action_parameters": {...},
    "reason": string,
    "confidence": float 0-1,
    "urgency_score": float 1-10,
    "expected_impact": string ("high", "medium", "low")
}

BE CONSERVATIVE: Only recommend action if confident and justified.`, query, contextText, historyText.String())
}
