package prompts

// systemInstruction is sent as the first message of every agent turn.
const systemInstruction = "You are a helpful assistant in managing tasks for a task management application."

// SystemPrompt returns the fixed system instruction for the task agent.
func SystemPrompt() string {
	return systemInstruction
}
