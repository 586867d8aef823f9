package main

import "fmt"

const planInstructions = "You are a senior startup coach. Based on the pain points in the Reddit post below, output an execution plan strictly following this Markdown format:\n\n" +
	"# Pain Point Description\n" +
	"- Summarize the key pain point in 1-2 sentences.\n\n" +
	"# Target Users\n" +
	"- Who they are, what scenario they're in, and how they're affected by the pain point.\n\n" +
	"# Validation Experiments (3)\n" +
	"- For each experiment: goal, hypothesis, execution steps, success criteria, required resources/time cost.\n\n" +
	"# 10-Step Checklist\n" +
	"- List 10 actionable small steps, as specific as possible.\n\n" +
	"Requirements:\n- Output only Markdown, no explanations.\n- Use English.\n- Assume you only have minimal resources.\n"

const systemPrompt = "You are a rigorous startup coach. Output only Markdown."

// BuildPrompt renders the plan instructions followed by the source post.
// Empty inputs still produce a complete prompt.
func BuildPrompt(title, body, permalink, community string) string {
	source := fmt.Sprintf("Reddit Post: [%s](https://www.reddit.com%s)\nSubreddit: r/%s\n\nContent:\n\n%s\n",
		title, permalink, community, body)
	return planInstructions + "\n---\n\n" + source
}

// NewCompletionRequest wraps a prompt in the chat request sent to the completion service
func NewCompletionRequest(model, prompt string) CompletionRequest {
	return CompletionRequest{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   2048,
	}
}
