package main

import (
	"strings"
	"testing"
)

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("X", "Y", "/r/foo/comments/1/x/", "foo")

	expectedParts := []string{
		"r/foo",
		"[X](https://www.reddit.com/r/foo/comments/1/x/)",
		"Subreddit: r/foo\n",
		"Content:\n\nY\n",
		"# Pain Point Description",
		"# Target Users",
		"# Validation Experiments (3)",
		"# 10-Step Checklist",
		"\n---\n\n",
	}
	for _, part := range expectedParts {
		if !strings.Contains(prompt, part) {
			t.Errorf("Expected prompt to contain %q", part)
		}
	}

	if !strings.HasPrefix(prompt, "You are a senior startup coach.") {
		t.Error("Expected prompt to start with the instruction block")
	}
	if !strings.HasSuffix(prompt, "Y\n") {
		t.Error("Expected prompt to end with the post body")
	}
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	a := BuildPrompt("t", "b", "/r/c/comments/1/s/", "c")
	b := BuildPrompt("t", "b", "/r/c/comments/1/s/", "c")
	if a != b {
		t.Error("Expected identical prompts for identical inputs")
	}
}

func TestBuildPrompt_EmptyInputs(t *testing.T) {
	prompt := BuildPrompt("", "", "", "")

	if !strings.Contains(prompt, "Reddit Post: [](https://www.reddit.com)\nSubreddit: r/\n\nContent:\n\n\n") {
		t.Errorf("Expected a sparse but complete source block, got %q", prompt[len(planInstructions):])
	}
}

func TestNewCompletionRequest(t *testing.T) {
	req := NewCompletionRequest("mistral-large-latest", "hello")

	if req.Model != "mistral-large-latest" {
		t.Errorf("Expected model, got '%s'", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Fatalf("Expected system and user messages, got %+v", req.Messages)
	}
	if req.Messages[1].Content != "hello" {
		t.Errorf("Expected prompt as user content, got '%s'", req.Messages[1].Content)
	}
	if req.Temperature != 0.3 || req.MaxTokens != 2048 {
		t.Errorf("Expected temperature 0.3 and 2048 max tokens, got %v and %d", req.Temperature, req.MaxTokens)
	}
}
