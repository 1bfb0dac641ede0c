package artifacts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/google/uuid"

	"delphi/internal/workflow"
	"delphi/pkg/errors"
)

// RenderLineChart writes an HTML price chart for the given series and
// returns the artifact record.
func (g *Generator) RenderLineChart(title string, series []workflow.Series) (*workflow.Artifact, error) {
	if len(series) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "no series to chart")
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	// All series share the first series' date axis; mixed ranges are
	// rendered against the longest one.
	axis := make([]string, 0, len(series[0].Dates))
	for _, d := range series[0].Dates {
		axis = append(axis, d.Format("2006-01-02"))
	}
	line.SetXAxis(axis)

	for _, s := range series {
		points := make([]opts.LineData, 0, len(s.Values))
		for _, v := range s.Values {
			points = append(points, opts.LineData{Value: v})
		}
		line.AddSeries(s.Label, points)
	}

	id := uuid.New()
	path := filepath.Join(g.dir, fmt.Sprintf("chart_%s.html", id))

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create chart file")
	}
	defer f.Close()

	if err := line.Render(f); err != nil {
		return nil, errors.Wrap(err, "render chart")
	}

	return &workflow.Artifact{
		ID:   id,
		Kind: "chart",
		Path: path,
		MIME: "text/html",
	}, nil
}
