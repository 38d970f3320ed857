package mcpserver

// RuleFormatContract describes the rule document format that LLM consumers
// should follow when creating rules.
const RuleFormatContract = `# Rule Document Format

Every rule in the rules directory is one Markdown file with a YAML frontmatter
header. Files under ` + "`" + `remote/` + "`" + ` are managed by rule sync and are overwritten.

## Structure

` + "```" + `markdown
---
id: firebase-analytics          # REQUIRED, unique; letters, digits, '.', '_' or '-'
name: Google Firebase Analytics  # REQUIRED, falls back to the first "# " heading
company: Google                  # OPTIONAL
icon: https://example.com/i.png  # OPTIONAL
safe_to_block: true              # OPTIONAL, default false
side_effect: None known.         # OPTIONAL
contributors: [alice]            # OPTIONAL
use_regex: false                 # OPTIONAL, keywords are regular expressions when true
keywords:                        # REQUIRED, at least one non-empty entry
  - com.google.firebase.analytics
  - com.google.android.gms.measurement
---

Description in Markdown.
` + "```" + `

## Matching

1. A rule matches an installed app when any keyword matches the app's package
   name or one of its component names.
2. Plain keywords match as case-insensitive substrings.
3. With ` + "`" + `use_regex: true` + "`" + ` each keyword is a Go regular expression
   (RE2 syntax) tested against the same names. Invalid patterns make the whole
   document invalid.
4. The matched app count is computed, never stored in the document.

## Files

- File names end with ` + "`" + `.md` + "`" + `; use the rule id as the file stem.
- Hidden files and directories (leading ` + "`" + `.` + "`" + `) are ignored.
- Encoding is UTF-8.
`
