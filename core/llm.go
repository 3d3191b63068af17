/*
This file builds the language model backend and wraps it with response
cleanup for reasoning models.

Models such as qwen3 or deepseek-r1 emit their chain of thought inside
<think>...</think> before the answer. The ModelWrapper removes those blocks
both from streamed chunks and from the final choice, so clients only ever
see the answer and the checkpointed history stays free of scratch text.
*/
package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel creates the backend selected by config.LLMProvider.
func NewModel(ctx context.Context, config *Config) (llms.Model, error) {
	switch config.LLMProvider {
	case "gemini":
		model, err := googleai.New(ctx,
			googleai.WithAPIKey(config.GeminiAPIKey),
			googleai.WithDefaultModel(config.GeminiModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini LLM: %w", err)
		}
		return model, nil

	case "openai":
		opts := []openai.Option{
			openai.WithToken(config.OpenAIAPIKey),
			openai.WithModel(config.OpenAIModel),
		}
		if config.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.OpenAIBaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI-compatible LLM: %w", err)
		}
		return model, nil

	case "ollama":
		model, err := ollama.New(
			ollama.WithServerURL(config.OllamaEndpoint),
			ollama.WithModel(config.OllamaModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Ollama LLM: %w", err)
		}
		return model, nil
	}
	return nil, fmt.Errorf("unsupported LLM provider %q", config.LLMProvider)
}

// CallOptions returns the sampling options derived from config.
func CallOptions(config *Config) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(config.Temperature)}
	if config.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(config.MaxTokens))
	}
	return opts
}

var (
	thinkBlock     = regexp.MustCompile(`(?is)<think>.*?</think>`)
	openThink      = regexp.MustCompile(`(?is)<think>.*`)
	reasoningBlock = regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`)
	extraNewlines  = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// ModelWrapper strips reasoning blocks from a model's output and logs every
// call.
type ModelWrapper struct {
	wrapped     llms.Model
	truncateLen int
	logger      logrus.FieldLogger
}

// NewModelWrapper wraps model. Payloads in logs are cut to
// config.LogTruncateLength characters.
func NewModelWrapper(model llms.Model, config *Config, logger logrus.FieldLogger) *ModelWrapper {
	return &ModelWrapper{
		wrapped:     model,
		truncateLen: config.LogTruncateLength,
		logger:      logger.WithField("component", "llm"),
	}
}

func (w *ModelWrapper) truncateForLog(text string) string {
	if w.truncateLen <= 0 || len(text) <= w.truncateLen {
		return text
	}
	return text[:w.truncateLen] + "..."
}

// GenerateContent implements llms.Model. A streaming callback, if any, only
// receives text outside reasoning blocks.
func (w *ModelWrapper) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var callOpts llms.CallOptions
	for _, opt := range options {
		opt(&callOpts)
	}

	var filter *thinkFilter
	if callOpts.StreamingFunc != nil {
		filter = &thinkFilter{}
		downstream := callOpts.StreamingFunc
		options = append(options, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if visible := filter.Write(string(chunk)); visible != "" {
				return downstream(ctx, []byte(visible))
			}
			return nil
		}))
		defer func() {
			// Text held back as a possible tag prefix is released at the end.
			if rest := filter.Flush(); rest != "" {
				_ = downstream(ctx, []byte(rest))
			}
		}()
	}

	start := time.Now()
	response, err := w.wrapped.GenerateContent(ctx, messages, options...)
	if err != nil {
		w.logger.WithError(err).WithField("duration", time.Since(start)).Warn("LLM call failed")
		return response, err
	}

	if response != nil {
		for _, choice := range response.Choices {
			if choice == nil {
				continue
			}
			original := choice.Content
			choice.Content = cleanResponse(original)
			if len(original) != len(choice.Content) {
				w.logger.WithFields(logrus.Fields{
					"originalLength":  len(original),
					"cleanedLength":   len(choice.Content),
					"originalPreview": w.truncateForLog(original),
				}).Debug("Cleaned LLM response content")
			}
		}
		w.logger.WithFields(logrus.Fields{
			"duration": time.Since(start),
			"choices":  len(response.Choices),
			"messages": len(messages),
		}).Debug("LLM call completed")
	}
	return response, nil
}

// Call implements llms.Model.
func (w *ModelWrapper) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, w, prompt, options...)
}

// cleanResponse removes reasoning blocks and collapses the blank lines they
// leave behind.
func cleanResponse(response string) string {
	cleaned := thinkBlock.ReplaceAllString(response, "")
	cleaned = openThink.ReplaceAllString(cleaned, "")
	cleaned = reasoningBlock.ReplaceAllString(cleaned, "")
	cleaned = extraNewlines.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkFilter removes <think> blocks from a stream of chunks. Tags may be
// split across chunks, so a trailing partial tag is held back until the next
// chunk decides it.
type thinkFilter struct {
	inThink bool
	started bool
	pending string
}

func (f *thinkFilter) Write(chunk string) string {
	s := f.pending + chunk
	f.pending = ""

	var out strings.Builder
	for s != "" {
		if f.inThink {
			i := strings.Index(s, thinkClose)
			if i < 0 {
				f.pending = partialSuffix(s, thinkClose)
				break
			}
			s = s[i+len(thinkClose):]
			f.inThink = false
			continue
		}

		i := strings.Index(s, thinkOpen)
		if i < 0 {
			keep := partialSuffix(s, thinkOpen)
			out.WriteString(s[:len(s)-len(keep)])
			f.pending = keep
			break
		}
		out.WriteString(s[:i])
		s = s[i+len(thinkOpen):]
		f.inThink = true
	}
	return f.visible(out.String())
}

// Flush returns held back text that turned out not to be a tag.
func (f *thinkFilter) Flush() string {
	if f.inThink {
		f.pending = ""
		return ""
	}
	rest := f.pending
	f.pending = ""
	return f.visible(rest)
}

// visible drops the whitespace reasoning models put between the closing tag
// and the answer.
func (f *thinkFilter) visible(s string) string {
	if !f.started {
		s = strings.TrimLeft(s, " \t\r\n")
		if s == "" {
			return ""
		}
		f.started = true
	}
	return s
}

// partialSuffix returns the longest suffix of s that is a proper prefix of tag.
func partialSuffix(s, tag string) string {
	for n := len(tag) - 1; n > 0; n-- {
		if len(s) >= n && strings.HasSuffix(s, tag[:n]) {
			return s[len(s)-n:]
		}
	}
	return ""
}

var _ llms.Model = (*ModelWrapper)(nil)
