package cmd

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/faces"
)

// formatTimestamp renders seconds as [h:]mm:ss.
func formatTimestamp(seconds float64) string {
	total := int(math.Round(seconds))
	if total < 0 {
		total = 0
	}
	h, m, s := total/3600, total/60%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func formatBox(b faces.BoundingBox) string {
	return fmt.Sprintf("%.0f,%.0f %.0fx%.0f", b.X, b.Y, b.Width, b.Height)
}

// printMatches writes one row per match.
func printMatches(w io.Writer, matches []analysis.Match) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tFRAME\tSIMILARITY\tBOX")
	fmt.Fprintln(tw, "----\t-----\t----------\t---")
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%s\n", formatTimestamp(m.Timestamp), m.FrameIndex, m.Confidence*100, formatBox(m.BBox))
	}
	tw.Flush()
}

// printResult writes the summary and the match table of a run.
func printResult(w io.Writer, res *analysis.Result) {
	s := res.Summary
	fmt.Fprintf(w, "\nRun %s: %s\n", res.RunID, s.Message)
	fmt.Fprintf(w, "Frames: %d sampled every %gs, %d failed\n", s.TotalFrames, res.IntervalSeconds, s.FailedFrames)
	fmt.Fprintf(w, "Faces: %d found, %d matched (threshold %.2f, best similarity %.1f%%)\n",
		s.TotalFacesFound, s.TotalDetections, res.Threshold, s.MaxSimilarity*100)

	if len(res.Matches) == 0 {
		return
	}
	fmt.Fprintln(w)
	printMatches(w, res.Matches)
}

// printRuns writes a table of stored runs.
func printRuns(w io.Writer, runs []database.StoredRun) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tVIDEO\tREFERENCE\tFRAMES\tMATCHES\tBEST")
	fmt.Fprintln(tw, "--\t-------\t-----\t---------\t------\t-------\t----")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%.1f%%\n",
			r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.VideoName, r.ReferenceName,
			r.TotalFrames, r.TotalDetections, r.MaxSimilarity*100)
	}
	tw.Flush()
}

// printStoredRun writes the details of one stored run.
func printStoredRun(w io.Writer, r *database.StoredRun) {
	fmt.Fprintf(w, "Run:        %s\n", r.ID)
	fmt.Fprintf(w, "Created:    %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Video:      %s\n", r.VideoName)
	fmt.Fprintf(w, "Reference:  %s\n", r.ReferenceName)
	fmt.Fprintf(w, "Settings:   every %gs, threshold %.2f\n", r.IntervalSeconds, r.Threshold)
	fmt.Fprintf(w, "Frames:     %d (%d failed)\n", r.TotalFrames, r.FailedFrames)
	fmt.Fprintf(w, "Faces:      %d found, %d matched\n", r.TotalFacesFound, r.TotalDetections)
	fmt.Fprintf(w, "Message:    %s\n", r.Message)

	if len(r.Matches) == 0 {
		return
	}
	matches := make([]analysis.Match, 0, len(r.Matches))
	for _, m := range r.Matches {
		matches = append(matches, analysis.Match{
			Timestamp:  m.Timestamp,
			FrameIndex: m.FrameIndex,
			Confidence: m.Confidence,
			BBox:       m.MatchBox(),
		})
	}
	fmt.Fprintln(w)
	printMatches(w, matches)
}
