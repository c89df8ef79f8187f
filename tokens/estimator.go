// Package tokens provides token estimation and USD cost projection for the
// model registry.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ahleung/storylens/model"
)

// promptOverheadTokens approximates the instruction scaffolding wrapped
// around the scene content in every request.
const promptOverheadTokens = 350

// Estimator estimates prompt token counts per model. OpenAI-family models
// (including DeepSeek's OpenAI-compatible API) are counted with tiktoken;
// everything else falls back to a chars/4 heuristic. Safe for concurrent use.
type Estimator struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewEstimator creates a token estimator.
func NewEstimator() *Estimator {
	return &Estimator{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// EstimateText estimates the token count of text for modelID.
func (e *Estimator) EstimateText(modelID, text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encodingFor(modelID); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return heuristicTokens(text)
}

// EstimateRequest estimates the full prompt size of a request: scene text,
// previous scenes, reader-knowledge lists and the instruction overhead.
func (e *Estimator) EstimateRequest(modelID string, req model.AnalysisRequest) int {
	total := promptOverheadTokens
	total += e.EstimateText(modelID, req.Scene.Text)
	for _, s := range req.PreviousScenes {
		total += e.EstimateText(modelID, s.Text)
	}
	for _, list := range [][]string{
		req.Knowledge.KnownCharacters,
		req.Knowledge.TimelineEvents,
		req.Knowledge.RevealedPlotPoints,
		req.Knowledge.EstablishedSettings,
	} {
		for _, item := range list {
			total += e.EstimateText(modelID, item) + 1
		}
	}
	return total
}

func (e *Estimator) encodingFor(modelID string) *tiktoken.Tiktoken {
	cand, ok := model.CandidateByID(modelID)
	if ok && cand.Provider != "openai" && cand.Provider != "deepseek" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encodings[modelID]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		// Registry models newer than the tiktoken tables share the
		// o200k vocabulary.
		enc, err = tiktoken.GetEncoding("o200k_base")
		if err != nil {
			e.encodings[modelID] = nil
			return nil
		}
	}
	e.encodings[modelID] = enc
	return enc
}

// heuristicTokens approximates tokens as chars/4, minimum 1 for non-empty
// text.
func heuristicTokens(text string) int {
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
