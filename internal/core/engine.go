package core

import (
	"context"
	"time"

	"triage-intake/internal/llm"
	"triage-intake/internal/logger"
	"triage-intake/pkg"
)

// Config holds the engine settings resolved at startup.
type Config struct {
	Prompts            Prompts
	ExtractTemperature float32
	PhraseTemperature  float32
	HistoryWindow      int
}

// DefaultConfig returns the built-in prompts and tuning.
func DefaultConfig() Config {
	return Config{
		Prompts:            DefaultPrompts(),
		ExtractTemperature: 0.1,
		PhraseTemperature:  0.4,
		HistoryWindow:      4,
	}
}

// Engine runs one conversation turn: extract, select a goal, phrase, repair.
// It holds no per-session state and is safe for concurrent use across
// sessions; calls for the same session must be serialised by the caller.
type Engine struct {
	Extractor *Extractor
	Phraser   *Phraser
	Apology   string
}

// NewEngine wires both adapters to the same completion capability.
func NewEngine(c llm.Completer, cfg Config) *Engine {
	return &Engine{
		Extractor: NewExtractor(c, cfg.Prompts.Extract, cfg.ExtractTemperature),
		Phraser:   NewPhraser(c, cfg.Prompts.Phrase, cfg.PhraseTemperature, cfg.HistoryWindow),
		Apology:   cfg.Prompts.Apology,
	}
}

// Process advances the conversation by one turn.  prior may be nil for the
// first turn.  It always returns a well-formed Result; an adapter error
// yields the apology together with the prior record, never a partially
// updated one.
func (e *Engine) Process(ctx context.Context, history []Turn, prior *pkg.SymptomRecord) Result {
	start := time.Now()
	var base pkg.SymptomRecord
	if prior != nil {
		base = prior.Clone()
	}
	base = NormalizeRecord(base)
	utterance := LatestUserUtterance(history)

	rec, err := e.Extractor.Extract(ctx, base, utterance)
	if err != nil {
		logger.Warn("extraction failed", "err", err, "elapsed_ms", time.Since(start).Milliseconds())
		return e.apologize(base)
	}
	logger.Debug("extracted", "symptoms", len(rec.Symptoms), "elapsed_ms", time.Since(start).Milliseconds())

	goal := SelectGoal(rec, utterance)
	rec.CurrentIndex = cursorFor(goal, rec)
	logger.Debug("goal selected", "kind", goal.Kind, "index", goal.Index, "field", goal.Field)

	step := time.Now()
	reply, err := e.Phraser.Phrase(ctx, goal, rec, history)
	if err != nil {
		logger.Warn("phrasing failed", "err", err, "elapsed_ms", time.Since(step).Milliseconds())
		return e.apologize(base)
	}
	res := RepairResult(reply, rec)
	if res.Reply != cleanReply(reply) {
		logger.Warn("phrased reply repaired", "goal", goal.Kind)
	}
	logger.Info("turn processed",
		"goal", goal.Kind,
		"symptoms", len(res.Extracted.Symptoms),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res
}

func (e *Engine) apologize(rec pkg.SymptomRecord) Result {
	return Repair(Result{Reply: e.Apology, Extracted: rec})
}

func cursorFor(goal Goal, rec pkg.SymptomRecord) int {
	if goal.Index >= 0 {
		return goal.Index
	}
	if len(rec.Symptoms) == 0 {
		return 0
	}
	return len(rec.Symptoms) - 1
}
