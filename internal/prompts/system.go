package prompts

import (
	"fmt"
	"strings"
)

// basePersona is used when no persona file is configured.
const basePersona = `You are a helpful home assistant AI integrated into a smart home dashboard. You can help the user with:
- Understanding their home automation setup
- Suggesting automations and improvements
- Answering questions about their devices and sensors
- General home and lifestyle questions`

const conciseStyle = `Be concise and helpful. Use emoji sparingly. Format responses for easy reading.`

const detailedStyle = `Be thorough. When explaining automations, walk through trigger, condition and action in order. When asked "what controls X", use the causal annotations in Recent Activity. Format responses for easy reading.`

// toolRules describe the confirmation contract for mutating tools.
const toolRules = `## Actions
You can change the home with two tools: call_service and create_automation.
- NEVER call a tool in the same reply where the action is first proposed.
- First describe exactly what you will do (entity ids, service, automation id and behaviour) and ask the user to confirm.
- Only after the user's next message explicitly confirms ("yes", "do it", "go ahead") call the tool, once.
- Use entity ids exactly as listed in the home context. Do not guess.
- If a tool returns an error, explain it to the user in plain words.
- After a successful action, acknowledge it briefly.`

const noToolRules = `## Actions
You cannot change anything in the home from here. If the user asks for a change, describe how they could do it in Home Assistant.`

// SystemPromptParams are the dynamic parts of the system prompt.
type SystemPromptParams struct {
	// Persona replaces the default persona paragraph when non-empty.
	Persona string
	// Detailed selects the detailed style register.
	Detailed bool
	// ToolsEnabled includes the action rules.
	ToolsEnabled bool
	// Context is the rendered home context. Empty omits the section.
	Context string
}

// SystemPrompt assembles the system prompt for a chat turn.
func SystemPrompt(p SystemPromptParams) string {
	var b strings.Builder

	persona := strings.TrimSpace(p.Persona)
	if persona == "" {
		persona = basePersona
	}
	b.WriteString(persona)
	b.WriteString("\n\n")

	if p.ToolsEnabled {
		b.WriteString(toolRules)
	} else {
		b.WriteString(noToolRules)
	}
	b.WriteString("\n\n")

	if ctx := strings.TrimSpace(p.Context); ctx != "" {
		fmt.Fprintf(&b, "Current home context:\n%s\n\n", ctx)
	}

	if p.Detailed {
		b.WriteString(detailedStyle)
	} else {
		b.WriteString(conciseStyle)
	}
	return b.String()
}
