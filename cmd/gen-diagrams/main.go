// gen-diagrams generates sample diagram outputs for README documentation.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rendis/stepgraph/internal/diagram"
	"github.com/rendis/stepgraph/internal/layout"
	"github.com/rendis/stepgraph/pkg/schema"
)

func main() {
	group := func(s string) *string { return &s }

	// Sample protocol run: prep fans out into two parallel assays, which
	// merge into analysis; review and sign-off depend on each other.
	steps := []schema.StepRecord{
		{ID: "prep", Seq: 0, Name: "Sample prep", Status: "completed",
			StartedAt: "2026-10-19T08:00:00Z", FinishedAt: "2026-10-19T08:12:30Z"},
		{ID: "assay-a", Seq: 1, Name: "Assay A", DependsOn: []schema.StepRef{schema.Ref("prep")},
			ParallelGroup: group("assays"), Status: "completed",
			StartedAt: "2026-10-19T08:12:30Z", FinishedAt: "2026-10-19T09:13:31Z"},
		{ID: "assay-b", Seq: 2, Name: "Assay B", DependsOn: []schema.StepRef{schema.Ref(0)},
			ParallelGroup: group("assays"), Status: "failed",
			StartedAt: "2026-10-19T08:12:30Z", FinishedAt: "2026-10-19T08:20:00Z"},
		{ID: "analysis", Seq: 3, Name: "Analysis", DependsOn: []schema.StepRef{schema.Ref("assay-a"), schema.Ref("assay-b")},
			Status: "running", StartedAt: "2026-10-19T09:14:00Z"},
		{ID: "review", Seq: 4, Name: "QA review", DependsOn: []schema.StepRef{schema.Ref("signoff")}, Status: "needs_qa"},
		{ID: "signoff", Seq: 5, Name: "Sign-off", DependsOn: []schema.StepRef{schema.Ref("review")}, Status: "pending"},
	}

	ctx := context.Background()
	model := diagram.Build(layout.Compute(steps), "protocol run")

	outDir := filepath.Join("docs", "assets")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}

	// ASCII (mermaid-ascii with built-in fallback)
	home, _ := os.UserHomeDir()
	binDir := filepath.Join(home, ".stepgraph", "bin")
	ascii := diagram.RenderASCIIAuto(ctx, model, binDir, diagram.ASCIIOptions{})
	write(filepath.Join(outDir, "diagram-ascii.txt"), []byte(ascii))
	fmt.Println("=== ASCII ===")
	fmt.Println(ascii)

	// Mermaid
	mermaid := diagram.RenderMermaid(model)
	write(filepath.Join(outDir, "diagram-mermaid.md"), []byte("```mermaid\n"+mermaid+"\n```\n"))
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	// Image (PNG)
	png, err := diagram.RenderImage(ctx, model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "image error: %v\n", err)
		return
	}
	pngPath := filepath.Join(outDir, "diagram-sample.png")
	write(pngPath, png)
	fmt.Printf("=== Image (PNG) ===\nWritten: %s (%d bytes)\n", pngPath, len(png))
}

func write(path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
	}
}
