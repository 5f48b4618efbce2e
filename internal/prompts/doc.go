// Package prompts holds the instructions Taskmate sends to models.
//
// Prompt text is Go code rather than configuration: it is program logic
// that the tool contract depends on, and tests pin it. Each prompt gets
// an exported function even when it takes no arguments.
package prompts
