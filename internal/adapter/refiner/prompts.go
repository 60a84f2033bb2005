package refiner

import "strings"

const refineTemplate = `You clean up text chunks cut from a longer document so that each one reads well on its own.

Chunk:
{{chunk}}

Rules:
- Drop page headers, footers and navigation residue.
- Rejoin sentences or words that were broken at the chunk boundary.
- Keep every fact; add nothing that is not in the chunk.

Reply with the cleaned chunk only.`

const metadataTemplate = `Read the text chunk below and describe it.

Chunk:
{{chunk}}

Reply with a JSON object and nothing else:
{"title": "<3 to 8 word title>", "summary": "<one or two sentence summary>"}`

func refinePrompt(content string) string {
	return strings.Replace(refineTemplate, "{{chunk}}", content, 1)
}

func metadataPrompt(content string) string {
	return strings.Replace(metadataTemplate, "{{chunk}}", content, 1)
}
