package prompt

// Category default templates used when a name cannot be resolved.
const (
	DefaultHTR        = "htr_default"
	DefaultFormatting = "formatting_clean"
	DefaultVLM        = "vlm_direct"
)

// GenericPrompt is rendered when neither the name nor its category resolve.
const GenericPrompt = "Please process this content appropriately."

var builtinTemplates = []Template{
	{
		Name:        "htr_default",
		Category:    "htr",
		Description: "General text recognition for printed and handwritten pages",
		Content: `Read this page image and transcribe every piece of visible text, printed or handwritten.

Include:
- Handwritten notes and annotations
- Printed paragraphs and headings
- Equations, numbers, dates and measurements

Keep any structure the page already has, such as lists or sections.`,
	},
	{
		Name:        "htr_academic",
		Category:    "htr",
		Description: "Text recognition tuned for papers and academic material",
		Content: `Transcribe all text on this academic page as precisely as possible.

Include:
- Citations, references and footnotes
- Equations and scientific notation
- Table contents, figure captions and margin notes

Keep the academic structure of the page intact.`,
	},
	{
		Name:        "htr_handwritten",
		Category:    "htr",
		Description: "Text recognition focused on handwriting",
		Content: `Transcribe the handwriting on this page image.

Pay attention to cursive and print, personal annotations, labels on sketches,
corrections in the margin and handwritten math.

Give your best reading of unclear words and mark words you cannot read with [unclear].`,
	},
	{
		Name:        "htr_forms",
		Category:    "htr",
		Description: "Text recognition for forms and structured documents",
		Content: `Transcribe the text of this form.

Capture each field label with its value, the state of every checkbox,
tables with their headers, and handwritten entries or signatures.

Keep the logical layout of the form.`,
	},
	{
		Name:        "formatting_clean",
		Category:    "formatting",
		Description: "General markdown cleanup",
		Content: `Rewrite the text below as clean, well structured markdown.

- Add headings where the content calls for them
- Format lists and emphasis correctly
- Keep the original meaning and wording
- Use consistent markdown syntax throughout

Text to format:
{content}`,
	},
	{
		Name:        "formatting_academic",
		Category:    "formatting",
		Description: "Markdown cleanup for academic and professional documents",
		Content: `Rewrite the text below as well structured markdown suitable for an academic document.

- Use a clear heading hierarchy and logical sections
- Format equations, citations, references and footnotes properly
- Keep the academic tone

Text to format:
{content}`,
	},
	{
		Name:        "formatting_notes",
		Category:    "formatting",
		Description: "Markdown cleanup for notes and meeting minutes",
		Content: `Rewrite the text below as organized markdown notes.

- Use short section headers
- Turn enumerations into bullet lists
- Highlight decisions and key facts

Text to format:
{content}`,
	},
	{
		Name:        "vlm_direct",
		Category:    "vlm",
		Description: "Direct page image to markdown conversion",
		Content: `Convert this document page into clean markdown.

Extract all visible text, keep the heading hierarchy, and render lists,
tables and captions with proper markdown syntax.

Return only the markdown, without commentary.`,
	},
	{
		Name:        "vlm_academic",
		Category:    "vlm",
		Description: "Page image to markdown for academic documents",
		Content: `Convert this academic document page into markdown.

Keep citations, references and footnotes, format equations and scientific
notation, and render tables and figure captions.

Return only the markdown.`,
	},
	{
		Name:        "vlm_handwritten",
		Category:    "vlm",
		Description: "Page image to markdown for handwritten notes",
		Content: `Convert these handwritten notes into markdown.

Read the handwriting carefully, keep the organization of the notes, and
mark words you cannot read with [unclear].

Return only the markdown.`,
	},
}
