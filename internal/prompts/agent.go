package prompts

// EmptyResponseFallback is returned to the user when the model finishes
// a turn without any text.
const EmptyResponseFallback = "No response"

// ConfirmationRequired is the tool error returned when a mutating tool
// is requested before the user has confirmed it.
const ConfirmationRequired = "confirmation required: describe the exact action to the user and wait for an explicit yes before calling this tool"

// DuplicateAction is noted in logs when the same action is requested
// twice within a turn.
const DuplicateAction = "identical action already executed in this turn"
