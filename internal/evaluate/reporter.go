package evaluate

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"jamwatch/internal/ml"
)

// Report is everything written for one evaluation run.
type Report struct {
	RunID      string            `json:"run_id"`
	Model      map[string]any    `json:"model"`
	Cut        float64           `json:"cut"`
	TrainStart time.Time         `json:"train_start"`
	TrainEnd   time.Time         `json:"train_end"`
	TestStart  time.Time         `json:"test_start"`
	TestEnd    time.Time         `json:"test_end"`
	Days       []DailyScore      `json:"days"`
	Summary    Summary           `json:"summary"`
	Importance []ml.FeatureScore `json:"importance,omitempty"`
	Positive   ClassDistribution `json:"positive_distribution"`
	Negative   ClassDistribution `json:"negative_distribution"`
}

// Reporter writes a Report to a directory.
type Reporter struct {
	report     *Report
	outputPath string
}

// NewReporter creates a reporter writing into outputPath.
func NewReporter(report *Report, outputPath string) *Reporter {
	return &Reporter{report: report, outputPath: outputPath}
}

// GenerateReport writes trend_summary.txt, trend.csv and trend.json.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generateTrendCSV(); err != nil {
		return err
	}
	return r.generateJSONReport()
}

func fmtPercent(f Float) string {
	if !f.Defined() {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", float64(f)*100)
}

func (r *Reporter) generateSummary() error {
	path := filepath.Join(r.outputPath, "trend_summary.txt")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	rep := r.report
	fmt.Fprintf(file, "TRAFFIC JAM MODEL TREND\n")
	fmt.Fprintf(file, "=======================\n\n")
	fmt.Fprintf(file, "Run: %s\n", rep.RunID)
	fmt.Fprintf(file, "Model: %v (%v)\n", rep.Model["name"], rep.Model["kind"])
	fmt.Fprintf(file, "Train: %s to %s\n", rep.TrainStart.Format("2006-01-02"), rep.TrainEnd.Format("2006-01-02"))
	fmt.Fprintf(file, "Test: %s to %s\n", rep.TestStart.Format("2006-01-02"), rep.TestEnd.Format("2006-01-02"))
	fmt.Fprintf(file, "Decision threshold: %.2f\n\n", rep.Cut)

	fmt.Fprintf(file, "AVERAGES OVER %d DAYS\n", rep.Summary.Days)
	fmt.Fprintf(file, "---------------------\n")
	fmt.Fprintf(file, "Accuracy: %s\n", fmtPercent(rep.Summary.Accuracy))
	fmt.Fprintf(file, "Recall: %s (+/- %s)\n", fmtPercent(rep.Summary.Recall), fmtPercent(rep.Summary.RecallUncertainty))
	fmt.Fprintf(file, "Weighted F1: %s\n", fmtPercent(rep.Summary.F1))
	fmt.Fprintf(file, "Rows: %d (%d failed)\n", rep.Summary.Rows, rep.Summary.Failed)

	if len(rep.Importance) > 0 {
		fmt.Fprintf(file, "\nFEATURE IMPORTANCE\n")
		fmt.Fprintf(file, "------------------\n")
		for i, fs := range rep.Importance {
			if i == 15 {
				break
			}
			fmt.Fprintf(file, "%-32s %.4f\n", fs.Name, fs.Score)
		}
	}

	fmt.Fprintf(file, "\nPREDICTED PROBABILITY BY TRUE CLASS\n")
	fmt.Fprintf(file, "-----------------------------------\n")
	fmt.Fprintf(file, "jam:    n=%d median=%s\n", rep.Positive.Count, fmtPercent(rep.Positive.Quantiles["p50"]))
	fmt.Fprintf(file, "no jam: n=%d median=%s\n", rep.Negative.Count, fmtPercent(rep.Negative.Quantiles["p50"]))

	log.Info().Str("file", path).Msg("Summary report generated")
	return nil
}

func csvFloat(f Float) string {
	if !f.Defined() {
		return ""
	}
	return strconv.FormatFloat(float64(f), 'f', 6, 64)
}

func (r *Reporter) generateTrendCSV() error {
	path := filepath.Join(r.outputPath, "trend.csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trend log: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"Date", "Rows", "Positives", "FailedRows", "Accuracy", "Recall", "RecallUncertainty", "F1"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, d := range r.report.Days {
		record := []string{
			d.Date,
			strconv.Itoa(d.Rows),
			strconv.Itoa(d.Positives),
			strconv.Itoa(d.Failed),
			csvFloat(d.Accuracy),
			csvFloat(d.Recall),
			csvFloat(d.RecallUncertainty),
			csvFloat(d.F1),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}

	log.Info().Str("file", path).Msg("Trend log generated")
	return nil
}

func (r *Reporter) generateJSONReport() error {
	path := filepath.Join(r.outputPath, "trend.json")

	out := struct {
		*Report
		GeneratedAt time.Time `json:"generated_at"`
	}{r.report, time.Now()}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", path).Msg("JSON report generated")
	return nil
}
