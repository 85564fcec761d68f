package retry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/stagehq/stagehand/internal/fsjson"
	"github.com/stagehq/stagehand/internal/model"
)

const outcomeFileName = "outcomes.json"

func (e *Engine) outcomePath() string {
	return filepath.Join(e.stageDir, outcomeFileName)
}

// RecordOutcome appends one observation to the outcome ring buffer. The
// buffer is trimmed to the configured retention on every append, so the file
// stays bounded without any rotation process.
func (e *Engine) RecordOutcome(categoryKey string, confidence float64, result model.Result, duration time.Duration) error {
	return e.mu.WithLock(outcomeFileName, func() error {
		logFile := e.loadOutcomes()

		id, err := model.GenerateID(model.IDTypeOutcome)
		if err != nil {
			return fmt.Errorf("generate outcome ID: %w", err)
		}
		logFile.Records = append(logFile.Records, model.OutcomeRecord{
			ID:          id,
			CategoryKey: categoryKey,
			Confidence:  confidence,
			Result:      result,
			DurationMS:  duration.Milliseconds(),
			ObservedAt:  e.now().Format(time.RFC3339),
		})

		if max := e.cfg.Calibration.MaxRecords; len(logFile.Records) > max {
			logFile.Records = logFile.Records[len(logFile.Records)-max:]
		}

		if err := fsjson.AtomicWrite(e.outcomePath(), logFile); err != nil {
			return fmt.Errorf("write outcome log: %w", err)
		}
		e.logger.Debugf("outcome_recorded category=%s result=%s duration_ms=%d",
			categoryKey, result, duration.Milliseconds())
		return nil
	})
}

// Stats derives the calibration statistics for one category key from the
// current ring buffer. ok is false when the category has no samples.
func (e *Engine) Stats(categoryKey string) (model.CategoryStats, bool) {
	for _, st := range e.AllStats() {
		if st.CategoryKey == categoryKey {
			return st, true
		}
	}
	return model.CategoryStats{}, false
}

// AllStats derives per-category statistics for every category present in the
// ring buffer, ordered by category key.
func (e *Engine) AllStats() []model.CategoryStats {
	logFile := e.loadOutcomes()

	byCategory := map[string]*model.CategoryStats{}
	durations := map[string]int64{}
	confidences := map[string]float64{}
	for _, r := range logFile.Records {
		st, ok := byCategory[r.CategoryKey]
		if !ok {
			st = &model.CategoryStats{CategoryKey: r.CategoryKey}
			byCategory[r.CategoryKey] = st
		}
		st.Samples++
		if r.Result == model.ResultSuccess {
			st.Successes++
		}
		durations[r.CategoryKey] += r.DurationMS
		confidences[r.CategoryKey] += r.Confidence
	}

	out := make([]model.CategoryStats, 0, len(byCategory))
	for key, st := range byCategory {
		st.SuccessRate = float64(st.Successes) / float64(st.Samples)
		st.MeanDurationMS = durations[key] / int64(st.Samples)
		st.MeanConfidence = confidences[key] / float64(st.Samples)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryKey < out[j].CategoryKey })
	return out
}

func (e *Engine) loadOutcomes() model.OutcomeLog {
	var logFile model.OutcomeLog
	err := fsjson.ReadInto(e.outcomePath(), &logFile)
	if err == nil {
		if logFile.Records == nil {
			logFile.Records = []model.OutcomeRecord{}
		}
		return logFile
	}
	if !os.IsNotExist(err) {
		e.logger.Warnf("corrupt outcome log, recovering: %v", err)
		if rerr := fsjson.RecoverCorruptedFile(e.stageDir, e.outcomePath(), model.FileTypeOutcomeLog); rerr != nil {
			e.logger.Errorf("outcome log recovery failed: %v", rerr)
		}
		var restored model.OutcomeLog
		if rerr := fsjson.ReadInto(e.outcomePath(), &restored); rerr == nil && restored.Records != nil {
			return restored
		}
	}
	return model.NewOutcomeLog()
}
