// Package gemini implements the agent gateway on Google's Gemini API.
//
// One Propose call is one GenerateContent request: the role instruction and
// the context snapshot go in as the system instruction, the utterance as the
// user turn, and the three ledger actions as function declarations. The
// response is parsed into an ordered list of action calls plus the model's
// text.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"github.com/agenda-it/agenda/internal/app/dispatch"
	"github.com/agenda-it/agenda/internal/domain"
)

// Config controls the Gemini gateway.
type Config struct {
	APIKey      string
	Model       string        // default: gemini-2.5-flash
	Temperature float32       // default: 0.7
	Attempts    int           // round trips tried before giving up (default: 2)
	Backoff     time.Duration // first retry delay, doubled per attempt (default: 300ms)
}

// DefaultConfig returns gateway defaults without an API key.
func DefaultConfig() Config {
	return Config{
		Model:       "gemini-2.5-flash",
		Temperature: 0.7,
		Attempts:    2,
		Backoff:     300 * time.Millisecond,
	}
}

// generator is the part of *genai.Models the gateway uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gateway is a domain.Gateway backed by Gemini.
type Gateway struct {
	config Config
	models generator
	tools  []*genai.Tool
}

var _ domain.Gateway = (*Gateway)(nil)

// New creates a gateway. A missing API key is a gateway error: nothing can
// be proposed without one.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	cfg = withDefaults(cfg)
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &domain.GatewayError{Op: "configure", Err: errors.New("no API key configured")}
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &domain.GatewayError{Op: "configure", Err: err}
	}
	return newGateway(cfg, cli.Models), nil
}

func newGateway(cfg Config, models generator) *Gateway {
	return &Gateway{
		config: withDefaults(cfg),
		models: models,
		tools:  Tools(dispatch.Schemas()),
	}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	return cfg
}

// Model returns the configured model name.
func (g *Gateway) Model() string { return g.config.Model }

// Propose sends one prompt and returns the parsed proposal. Failed round
// trips are retried; nothing has been applied yet, so a retry is harmless.
func (g *Gateway) Propose(ctx context.Context, p domain.Prompt) (domain.Proposal, error) {
	temp := g.config.Temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction(p)}}},
		Tools:             g.tools,
		Temperature:       &temp,
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: p.Utterance}}}}

	var lastErr error
	for attempt := 0; attempt < g.config.Attempts; attempt++ {
		if attempt > 0 {
			delay := g.config.Backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return domain.Proposal{}, &domain.GatewayError{Op: "generate", Err: ctx.Err()}
			case <-time.After(delay):
			}
		}
		resp, err := g.models.GenerateContent(ctx, g.config.Model, contents, cfg)
		if err != nil {
			lastErr = err
			log.Printf("[gemini] %s attempt %d failed: %v", p.Role, attempt+1, err)
			if ctx.Err() != nil || !retryable(err) {
				break
			}
			continue
		}
		prop, err := ParseResponse(resp)
		if err != nil {
			return domain.Proposal{}, &domain.GatewayError{Op: "parse", Err: err}
		}
		log.Printf("[gemini] %s: %d function calls, %d chars of text", p.Role, len(prop.Actions), len(prop.Text))
		return prop, nil
	}
	return domain.Proposal{}, &domain.GatewayError{Op: "generate", Err: lastErr}
}

// retryable reports whether a failed GenerateContent call is worth another
// attempt: transport failures, rate limiting and server errors are; any
// other API status (bad key, bad request, forbidden) is not.
func retryable(err error) bool {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return true
	}
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func systemInstruction(p domain.Prompt) string {
	if p.Context == "" {
		return p.Instruction
	}
	return p.Instruction + "\n" + p.Context
}

// ─── Conversion ─────────────────────────────────────────────────────────────

// Tools converts action schemas into a single Gemini tool.
func Tools(schemas []dispatch.Schema) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, s := range schemas {
		props := make(map[string]*genai.Schema, len(s.Params))
		for _, p := range s.Params {
			props[p.Name] = &genai.Schema{Type: schemaType(p.Type), Description: p.Description}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   s.Required(),
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func schemaType(t dispatch.ParamType) genai.Type {
	if t == dispatch.TypeNumber {
		return genai.TypeNumber
	}
	return genai.TypeString
}

// ErrMalformedResponse is returned when the model answered without a usable
// candidate.
var ErrMalformedResponse = errors.New("malformed response: no candidate content")

// ParseResponse extracts every function call, in order, and the
// concatenated text of the first candidate.
func ParseResponse(resp *genai.GenerateContentResponse) (domain.Proposal, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return domain.Proposal{}, ErrMalformedResponse
	}
	var (
		prop domain.Proposal
		text []string
	)
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if fc := part.FunctionCall; fc != nil {
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			prop.Actions = append(prop.Actions, domain.ActionCall{Name: fc.Name, Args: args})
			continue
		}
		if t := strings.TrimSpace(part.Text); t != "" {
			text = append(text, t)
		}
	}
	prop.Text = strings.Join(text, "\n")
	return prop, nil
}

// String describes the gateway for logs.
func (g *Gateway) String() string {
	return fmt.Sprintf("Gemini:%s", g.config.Model)
}
