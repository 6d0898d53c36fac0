package main

import (
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/xhad/corpus/pkg/config"
	"github.com/xhad/corpus/pkg/pipeline"
)

// applyTheme sets up terminal output for the configured ui.theme.
func applyTheme(theme string) {
	if theme == config.ThemePlain {
		color.NoColor = true
	}
}

func barTheme(theme string) progressbar.Theme {
	if theme == config.ThemeASCII || theme == config.ThemePlain {
		return progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: "-",
			BarStart:      "[",
			BarEnd:        "]",
		}
	}
	return progressbar.Theme{
		Saucer:        "█",
		SaucerHead:    "█",
		SaucerPadding: "░",
		BarStart:      "[",
		BarEnd:        "]",
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(barTheme(cfg.UI.Theme)),
		progressbar.OptionEnableColorCodes(!color.NoColor),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(!color.NoColor),
		progressbar.OptionSetRenderBlankState(true),
	)
}

var stageLabels = map[string]string{
	pipeline.StageParse: " Parsing articles...",
	pipeline.StageChunk: " Chunking articles...",
	pipeline.StageStore: " Embedding and storing...",
}

// stageBars renders one progress bar per pipeline stage. Pipeline events
// arrive serialized, so no locking is needed here.
type stageBars struct {
	stage string
	bar   *progressbar.ProgressBar
}

func (s *stageBars) onEvent(event pipeline.Event) {
	stage := event.Stage
	switch stage {
	case pipeline.StageEmbed:
		logger.Debug("embedding", zap.String("slug", event.Slug))
		return
	case pipeline.StageSkip:
		stage = pipeline.StageStore
	}

	if stage != s.stage || s.bar == nil {
		s.finish()
		s.stage = stage
		s.bar = getProgressBar(event.Total, stageLabels[stage])
	}
	s.bar.Set(event.Done)
}

func (s *stageBars) finish() {
	if s.bar != nil {
		s.bar.Finish()
		s.bar = nil
	}
}
