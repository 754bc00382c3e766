package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/programme-lv/skillfactory/internal/sandbox"
	"github.com/programme-lv/skillfactory/internal/task"
)

const distillSteps = `  a) identify 3-5 core concepts, one or two sentences each
  b) select 10-20 key APIs, functions or classes
  c) extract 3-5 representative, directly runnable usage examples
  d) list 3-5 common mistakes and best practices`

func researchInstruction(d task.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a senior technical researcher. Gather documentation efficiently and distill it.\n\n")
	fmt.Fprintf(&b, "Skill name: %s\nResearch keyword: %s\nDescription: %s\n\n", d.Name, d.Keyword, d.Description)

	context7 := fmt.Sprintf("  - mcp__context7__resolve-library-id(keyword=%q)\n  - mcp__context7__query-docs(keyword=%q)\n", d.Keyword, d.Keyword)

	switch d.Strategy {
	case task.LocalFirst:
		b.WriteString("Step 1. Crawl the official documentation locally (HTML to Markdown), the source repository and the package registry page.\n")
		fmt.Fprintf(&b, "Step 2. Distill the material:\n%s\n", distillSteps)
		b.WriteString("Step 3. Optionally complement it with the latest information from Context7:\n" + context7)
	case task.Hybrid:
		b.WriteString("Step 1. Collect documentation from two sources at once.\n")
		b.WriteString("  Source A, Context7:\n" + context7)
		b.WriteString("  Source B: a local crawl of the official documentation.\n")
		b.WriteString("Step 2. Merge both sources, drop duplicates, then distill: 3-5 core concepts, 15-25 key APIs, 5-10 examples, 5-10 best practices and pitfalls.\n")
	default:
		b.WriteString("Step 1. Query the official documentation through Context7:\n" + context7)
		fmt.Fprintf(&b, "Step 2. If the context is at least %d tokens, distill it:\n%s\n", d.MinContextTokens, distillSteps)
		fmt.Fprintf(&b, "  Drop sections unrelated to %q, outdated version notes and long theory.\n", d.Keyword)
		fmt.Fprintf(&b, "Step 3. If Context7 returns fewer than %d tokens, crawl the official documentation and repeat step 2.\n", d.MinContextTokens)
	}

	if len(d.References) > 0 {
		b.WriteString("\nStart from these references:\n")
		for _, ref := range d.References {
			fmt.Fprintf(&b, "  - %s\n", ref)
		}
	}
	fmt.Fprintf(&b, "\nKeep the distilled notes under %d tokens. ", d.MaxDistilledTokens)
	b.WriteString("Structure them as: version and release date, core concepts, key API list, basic usage example, common mistakes and best practices.")
	return b.String()
}

func draftInstruction(d task.Descriptor, rt sandbox.Runtime, dir string) string {
	scripts := filepath.Join(dir, "scripts")
	return fmt.Sprintf(`Now write demo code based on the research.

1. Use the Write tool to create %s
   - 100-150 lines, %s only
   - demonstrate the core functionality, no large test suites
   - it must run as is with "%s"
   - include 3-5 assertions that verify correctness

2. Use the Write tool to create %s
   - list the direct dependencies with pinned versions
   - it is installed with "%s"

Stop when both files are written. SKILL.md is written in a later round.`,
		filepath.Join(scripts, rt.CodeFile), d.Language, rt.RunCmd,
		filepath.Join(scripts, rt.DepsFile), rt.InstallCmd)
}

func fixInstruction(rt sandbox.Runtime, dir string, attempt int, excerpt string) string {
	scripts := filepath.Join(dir, "scripts")
	return fmt.Sprintf(`The demo failed in a clean container (attempt %d). The command was:

    %s

Error output:
%s

Fix %s and, if a dependency is wrong or missing, %s. Keep the assertions meaningful. Stop when the files are updated.`,
		attempt, rt.Command(), excerpt,
		filepath.Join(scripts, rt.CodeFile), filepath.Join(scripts, rt.DepsFile))
}

func distillInstruction(d task.Descriptor, dir string, validated bool) string {
	verdict := "The demo code was NOT validated in the sandbox. Say so in the Quick Start section and keep the examples conservative."
	if validated {
		verdict = "The demo code passed in a clean container. Base the Quick Start section on it."
	}
	return fmt.Sprintf(`Research is complete. Write the skill documentation.

%s

Use the Write tool to create %s in this format:

---
name: %s
description: %s. Use this skill when you need to %s.
---

# %s

## Overview
Two or three paragraphs on what the skill does and when it applies.

## Prerequisites
Runtime version, environment and dependencies.

## Quick Start
The smallest runnable example.

## Key Concepts
The concepts, APIs, functions and classes found during research.

## Common Use Cases
Two or three realistic scenarios.

## Best Practices
Three to five practices and caveats.

If the research produced more material, also write %s. Stop when done.`,
		verdict,
		filepath.Join(dir, "SKILL.md"),
		d.Name, strings.TrimSuffix(d.Description, "."), d.Keyword,
		d.Name,
		filepath.Join(dir, "references", "research.md"))
}
