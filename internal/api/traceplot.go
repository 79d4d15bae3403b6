package api

import (
	"fmt"
	"image/color"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/camera.control/internal/control"
)

var (
	measuredColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	targetColor   = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

func tracePlot(out control.Outcome) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s -> %g", out.Kind, out.Target)
	p.X.Label.Text = "Poll"
	p.Y.Label.Text = out.Kind.String()

	measured := make(plotter.XYs, len(out.Trace))
	target := make(plotter.XYs, len(out.Trace))
	for i, v := range out.Trace {
		measured[i] = plotter.XY{X: float64(i), Y: v}
		target[i] = plotter.XY{X: float64(i), Y: out.Target}
	}

	mLine, err := plotter.NewLine(measured)
	if err != nil {
		return nil, err
	}
	mLine.Color = measuredColor
	mLine.Width = vg.Points(1.5)

	tLine, err := plotter.NewLine(target)
	if err != nil {
		return nil, err
	}
	tLine.Color = targetColor
	tLine.Width = vg.Points(1)
	tLine.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}

	p.Add(mLine, tLine)
	p.Legend.Add("measured", mLine)
	p.Legend.Add("target", tLine)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func (s *Server) writeTracePNG(w http.ResponseWriter, out control.Outcome) {
	p, err := tracePlot(out)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		logf("failed to write trace png: %v", err)
	}
}
