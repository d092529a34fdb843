package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/pasture-data/herdsight/internal/db"
	"github.com/pasture-data/herdsight/internal/vision/reid"
)

// echartsAssetsPrefix points chart pages at the public go-echarts asset
// bundle so the monitor serves no static files of its own.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// viridis gradient for the count chart's VisualMap.
var viridisPalette = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// chartVideo resolves the video_id query parameter shared by the chart
// endpoints, writing the error response itself when resolution fails.
func (ws *WebServer) chartVideo(w http.ResponseWriter, r *http.Request) (*db.Video, bool) {
	videoID := r.URL.Query().Get("video_id")
	if videoID == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'video_id' parameter")
		return nil, false
	}
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for chart lookup")
		return nil, false
	}
	video, err := ws.store.GetVideo(videoID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no video '%s'", videoID))
		} else {
			ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get video: %v", err))
		}
		return nil, false
	}
	return video, true
}

// handleCountChart renders detections per frame as a scatter chart, coloured
// by count so occlusion spikes and dropouts stand out.
// Query params:
//
//	video_id (required)
func (ws *WebServer) handleCountChart(w http.ResponseWriter, r *http.Request) {
	video, ok := ws.chartVideo(w, r)
	if !ok {
		return
	}

	counts, err := ws.store.FrameCounts(video.ID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get frame counts: %v", err))
		return
	}
	series := PrepareCountSeries(counts, video.ID)
	if series.NumFrames == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no detections recorded for video")
		return
	}

	data := make([]opts.ScatterData, 0, series.NumFrames)
	for i, frame := range series.Frames {
		data = append(data, opts.ScatterData{Value: []interface{}{frame, series.Counts[i], series.Counts[i]}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Goat Counts", Theme: "dark", Width: "900px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Detections Per Frame", Subtitle: fmt.Sprintf("video=%s frames=%d mean=%.1f", video.Filename, series.NumFrames, series.MeanCount)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Count", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(series.MaxCount),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridisPalette},
		}),
	)
	scatter.AddSeries("counts", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render count chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleDensityChart renders how many frames fall in each crowd density class.
func (ws *WebServer) handleDensityChart(w http.ResponseWriter, r *http.Request) {
	video, ok := ws.chartVideo(w, r)
	if !ok {
		return
	}

	counts, err := ws.store.FrameCounts(video.ID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get frame counts: %v", err))
		return
	}
	density := PrepareDensityData(counts, video.ID)
	if density.NumFrames == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no detections recorded for video")
		return
	}

	x := make([]string, 0, len(density.Buckets))
	y := make([]opts.BarData, 0, len(density.Buckets))
	for _, b := range density.Buckets {
		x = append(x, b.Label)
		y = append(y, opts.BarData{Value: b.Frames})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Crowd Density Distribution", Subtitle: fmt.Sprintf("video=%s frames=%d peak=%s", video.Filename, density.NumFrames, density.PeakLabel)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("frames", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleSimilarityChart renders a histogram of the re-identification
// similarity scores recorded in sighting event metadata.
func (ws *WebServer) handleSimilarityChart(w http.ResponseWriter, r *http.Request) {
	video, ok := ws.chartVideo(w, r)
	if !ok {
		return
	}

	events, err := ws.store.ListEventsByVideo(video.ID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get events: %v", err))
		return
	}
	hist := PrepareSimilarityHistogram(events, video.ID)
	if hist.NumEvents == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no identity events recorded for video")
		return
	}

	x := make([]string, 0, len(hist.Bins))
	y := make([]opts.BarData, 0, len(hist.Bins))
	for _, b := range hist.Bins {
		x = append(x, b.Label)
		y = append(y, opts.BarData{Value: b.Count})
	}

	subtitle := fmt.Sprintf("video=%s events=%d mean=%.3f strong=%d weak=%d new=%d",
		video.Filename, hist.NumEvents, hist.MeanSimilarity,
		hist.Decisions[string(reid.DecisionStrong)],
		hist.Decisions[string(reid.DecisionWeak)],
		hist.Decisions[string(reid.DecisionNew)])

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Re-ID Similarity", Theme: "dark", Width: "900px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Re-identification Similarity", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("events", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render similarity chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
