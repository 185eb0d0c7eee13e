package models

const (
	FormatPlain    = "plain"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"

	ContextSeparator = "\n\n"
)

var (
	// ApplySystemPrompt is filled with the format rules of the target document
	ApplySystemPrompt = `You transform documents by following the user's instruction.
Return only the transformed text, without explanations or surrounding quotes.
%s
If reference context is provided, use it only when it is relevant to the instruction.`

	FormatRules = map[string]string{
		FormatPlain: `The text is plain text. Keep paragraphs and line breaks as they are and do not add any markup.`,
		FormatMarkdown: `The text is Markdown. Preserve headings, lists, tables, links and code blocks exactly as Markdown.
Do not convert Markdown to HTML and do not wrap the answer in a code fence.`,
		FormatHTML: `The text is an HTML fragment. Preserve every tag, attribute and the nesting structure.
Only change text content unless the instruction asks for structural changes. Do not add <html> or <body>.`,
	}

	ApplyUserPromptTemplate = `Instruction:
%s

Request:
%s
%s
Text:
%s`

	ApplyContextTemplate = `
Reference context:
%s
`
)
