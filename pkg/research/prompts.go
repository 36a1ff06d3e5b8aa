package research

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikeboe/deep-research/pkg/clients"
)

// MaxPageChars is how much page text the evaluator and extractor see.
const MaxPageChars = 20000

const queryListFormat = "Return the queries as a JSON array of strings inside a ```json code block and nothing else. " +
	"For example:\n```json\n[\"query one\", \"query two\"]\n```"

func initialQueriesMessages(topic string) []clients.Message {
	prompt := "You are a seasoned research assistant. Based on the user's topic, produce as many as four distinct and precise " +
		"search queries that will help collect thorough information on the subject. " + queryListFormat

	return []clients.Message{
		{Role: clients.RoleSystem, Content: "You are a precise and supportive research assistant."},
		{Role: clients.RoleUser, Content: fmt.Sprintf("User Topic: %s\n\n%s", topic, prompt)},
	}
}

func refineQueriesMessages(topic string, priorQueries, passages []string) []clients.Message {
	prompt := "You are a systematic research planner. Taking into account the original topic, prior search queries, " +
		"and the extracted information from webpages, determine if more research is required. " +
		"If so, produce up to four new search queries. " + queryListFormat +
		"\nIf no further research is needed, reply with exactly STOP and nothing else."

	return []clients.Message{
		{Role: clients.RoleSystem, Content: "You are methodical in planning further research steps."},
		{Role: clients.RoleUser, Content: fmt.Sprintf("User Topic: %s\nPrevious Queries: %s\n\nCollected Context:\n%s\n\n%s",
			topic, formatQueries(priorQueries), strings.Join(passages, "\n"), prompt)},
	}
}

func usefulnessMessages(topic, pageText string) []clients.Message {
	prompt := "You are a discerning evaluator of research. Given the user's topic and a snippet of webpage content, " +
		"decide if the page contains valuable information to address the query. " +
		"Reply strictly with one word: 'Yes' if the content is useful, or 'No' if it is not. Provide no extra text."

	return []clients.Message{
		{Role: clients.RoleSystem, Content: "You are a concise and strict research relevance evaluator."},
		{Role: clients.RoleUser, Content: fmt.Sprintf("User Topic: %s\n\nWebpage Snippet (up to %d characters):\n%s\n\n%s",
			topic, MaxPageChars, truncateRunes(pageText, MaxPageChars), prompt)},
	}
}

func extractionMessages(topic, query, pageText string) []clients.Message {
	prompt := "You are an expert extractor of information. Given the user's topic, the search query that produced this page, " +
		"and the webpage text, extract all pertinent details needed to answer the inquiry. " +
		"Return only the relevant text without any additional commentary."

	return []clients.Message{
		{Role: clients.RoleSystem, Content: "You excel at summarizing and extracting relevant details."},
		{Role: clients.RoleUser, Content: fmt.Sprintf("User Topic: %s\nSearch Query: %s\n\nWebpage Snippet (up to %d characters):\n%s\n\n%s",
			topic, query, MaxPageChars, truncateRunes(pageText, MaxPageChars), prompt)},
	}
}

func reportMessages(topic, contextBlock string) []clients.Message {
	prompt := "You are a proficient academic report writer. Using the compiled contexts below and the original topic, " +
		"compose a comprehensive, well-organized, and in-depth report that fully addresses the inquiry. " +
		"Ensure that each piece of evidence is tagged with citation numbers in square brackets (e.g., [1], [2]). " +
		"Maintain these tags in your final report to show the references. " +
		"The style should be academic with proper in-text citations. Do not alter or add citation numbers."

	return []clients.Message{
		{Role: clients.RoleSystem, Content: "You are an expert academic report composer."},
		{Role: clients.RoleUser, Content: fmt.Sprintf("User Topic: %s\n\nCollected Context:\n%s\n\n%s", topic, contextBlock, prompt)},
	}
}

func formatQueries(queries []string) string {
	if queries == nil {
		queries = []string{}
	}
	b, err := json.Marshal(queries)
	if err != nil {
		return strings.Join(queries, ", ")
	}
	return string(b)
}

// truncateRunes keeps the first n characters of s without splitting a UTF-8
// sequence.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
