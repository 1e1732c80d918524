// Package prompts contains the prompt text Hearth sends to the model.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation and can be validated by tests.
// User-facing configuration lives in config.yaml; an operator may replace
// the persona paragraph with assistant.persona_file, but the tool and
// confirmation rules below are always appended.
package prompts
