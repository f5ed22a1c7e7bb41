package mcpserver

// NoteFormatContract describes the canonical Markdown note format that
// LLM consumers should follow when creating or updating notes.
const NoteFormatContract = `# Othala Note Format Contract

Every Markdown note stored in Othala MUST follow this structure.

## Structure

` + "```" + `markdown
---
id: n-4f2a9c1e                      # IDENTITY – minted by the engine; never edit it
title: Human-readable title         # OPTIONAL – falls back to the first heading, then the filename
tags:                               # OPTIONAL – YAML list; used for filtering
  - tag-one
  - tag-two
created: 2025-01-15T09:30:00Z       # OPTIONAL – RFC 3339; stamped on create when omitted
updated: 2025-01-20T14:00:00Z       # OPTIONAL – refreshed on every write through the API
---

Body text in standard Markdown.

Use [[n-4f2a9c1e]] to reference other notes by id.
Use [[n-4f2a9c1e|display text]] when the shown text should differ from the target.
Title targets like [[Other Note]] also resolve, but only ids survive renames.
` + "```" + `

## Rules

1. **The ` + "`" + `id` + "`" + ` field is the note's identity.** The engine mints it (` + "`" + `n-` + "`" + ` plus
   8 lowercase hex digits) and stamps it into the header. Never edit it, never copy it
   into another note, never remove it. When creating notes through tools, pass only the
   body; the engine adds the header.
2. **YAML frontmatter fences** (` + "```" + `---` + "```" + `) must be the first thing in the file when a
   header is present. A body-only file is legal; the engine supplies the header on sight.
3. **Tags** are lowercase, kebab-case (e.g. ` + "`" + `project-x` + "`" + `, ` + "`" + `meeting-notes` + "`" + `).
4. **Wikilinks** use double brackets. Prefer id targets: ` + "`" + `[[n-4f2a9c1e]]` + "`" + `. They keep
   pointing at the same note no matter how it is renamed or moved.
5. **Types are folders.** A note of type ` + "`" + `journal` + "`" + ` lives under ` + "`" + `journal/` + "`" + `; the vault
   root holds untyped notes. Filenames are slugified from the title by the engine
   (lowercase a-z, 0-9 and dashes), so do not pick paths yourself.
6. **Encoding** is UTF-8 with a trailing newline.
7. **No HTML** unless absolutely necessary; prefer Markdown equivalents.
8. **Language policy:** frontmatter keys MUST be in English (they are schema fields).
   Frontmatter values (title, tags, aliases, etc.) and body content may use any
   language including Cyrillic. Filenames stay ASCII because the engine slugifies them.

## Assets & Images

- Upload assets via the ` + "`" + `upload_asset` + "`" + ` tool. It returns a ` + "`" + `markdownImage` + "`" + ` field ready to paste into the note body.
- Assets are stored in the shared ` + "`" + `attachments/` + "`" + ` directory (flat, no sub-folders).
  The directory is invisible to the sync engine; binary blobs never enter the index.
- Reference in notes using the absolute path: ` + "`" + `![description](/attachments/filename.png)` + "`" + `
- Supported formats: png, jpg, jpeg, gif, webp, svg, pdf.
- Do **not** use relative paths like ` + "`" + `./attachments/...` + "`" + ` — always use ` + "`" + `/attachments/filename` + "`" + `.

## Example

` + "```" + `markdown
---
id: n-7be03a91
title: Weekly standup 2025-01-20
tags:
  - meeting-notes
  - project-x
created: 2025-01-20T10:00:00Z
---

# Weekly standup 2025-01-20

Attendees: Alice, Bob.

![Whiteboard photo](/attachments/standup-2025-01-20.jpg)

## Action items

- [[n-2c11d4f0|Alice]] to review the [[n-90ab35ee|design doc]]
- Bob to update [[n-5d6e7f80|the roadmap]]
` + "```" + `
`
