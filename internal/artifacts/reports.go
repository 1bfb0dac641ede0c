package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"

	"delphi/internal/workflow"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// Generator writes answer artifacts (charts, report files) under a single
// output directory.
type Generator struct {
	dir string
	log *logger.Logger
}

// NewGenerator ensures the output directory exists and returns a generator.
func NewGenerator(dir string) (*Generator, error) {
	if dir == "" {
		dir = "artifacts"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create artifact directory")
	}
	return &Generator{dir: dir, log: logger.Get().With("component", "artifacts")}, nil
}

// Dir returns the output directory.
func (g *Generator) Dir() string { return g.dir }

// WriteReport saves the answer as a file in the requested format and returns
// the artifact record.
func (g *Generator) WriteReport(title, answer, format string) (*workflow.Artifact, error) {
	if answer == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "empty report body")
	}
	if title == "" {
		title = "Financial report"
	}

	id := uuid.New()

	switch format {
	case "pdf":
		return g.writePDF(id, title, answer)
	case "text":
		return g.writeText(id, fmt.Sprintf("%s\n\n%s\n", title, answer), "txt", "text/plain")
	default:
		body := fmt.Sprintf("# %s\n\n_%s_\n\n%s\n", title, time.Now().UTC().Format("2006-01-02 15:04 UTC"), answer)
		return g.writeText(id, body, "md", "text/markdown")
	}
}

func (g *Generator) writeText(id uuid.UUID, body, ext, mime string) (*workflow.Artifact, error) {
	path := filepath.Join(g.dir, fmt.Sprintf("report_%s.%s", id, ext))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return nil, errors.Wrap(err, "write report file")
	}
	return &workflow.Artifact{ID: id, Kind: "report", Path: path, MIME: mime}, nil
}

func (g *Generator) writePDF(id uuid.UUID, title, answer string) (*workflow.Artifact, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 8, title, "", "L", false)
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 5, time.Now().UTC().Format("2006-01-02 15:04 UTC"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 5.5, answer, "", "L", false)

	path := filepath.Join(g.dir, fmt.Sprintf("report_%s.pdf", id))
	if err := pdf.OutputFileAndClose(path); err != nil {
		return nil, errors.Wrap(err, "write pdf report")
	}

	return &workflow.Artifact{ID: id, Kind: "report", Path: path, MIME: "application/pdf"}, nil
}
