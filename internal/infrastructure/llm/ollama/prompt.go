package ollama

import "fmt"

const summaryPromptTemplate = `You are an assistant tasked with summarizing text and tables for retrieval.
Write a concise summary that is optimized for semantic search.
Respond only with the summary, no additional comment.

Content:
%s`

const imagePrompt = `Describe this image in detail. Focus on any text, numbers, charts or ` +
	`diagrams it contains, and state what the image is about. Respond only with the description.`

func buildSummaryPrompt(content string) string {
	return fmt.Sprintf(summaryPromptTemplate, content)
}
