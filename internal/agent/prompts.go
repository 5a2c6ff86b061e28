package agent

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = `You are the customer support assistant for this mailbox. You answer inbound
emails politely and concisely, in the language of the sender. Ground every
factual statement in the knowledge base: call knowledge_base_search whenever
the answer depends on products, policies, prices or procedures, and do not
invent facts the search did not return. If the knowledge base has no answer,
say that a colleague will follow up. Reply with the email body only, without
a subject line.`

const defaultRelevancePrompt = `Decide whether the following email deserves a reply from customer support.

An email is relevant if it is a serious, business-relevant or product-related
inquiry. It is not relevant if it is spam, inappropriate, promotional, an
automated notification, or completely unrelated to the business.

Sender: {{.Sender}}
Subject: {{.Subject}}

Body:
{{.Body}}
{{if .Attachments}}
Attachments:
{{.Attachments}}
{{end}}
Answer with a JSON object with the fields "is_relevant" (boolean) and
"reason" (a brief explanation).`

const defaultReplyPrompt = `Write a reply to this email.

From: {{.Sender}}
Subject: {{.Subject}}
Date: {{.Date}}

Body:
{{.Body}}
{{if .Attachments}}
Attachments:
{{range .Attachments}}{{.}}
{{end}}{{end}}
Knowledge base results so far:
{{.ToolContext}}`

const defaultImageDescriptionPrompt = `Describe this image in detail for a support agent who cannot see it.
Transcribe any visible text verbatim, including error messages, order
numbers and product names.`

// Prompts holds the parsed prompt templates.
type Prompts struct {
	System           string
	ImageDescription string

	relevance *template.Template
	reply     *template.Template
}

type promptFile struct {
	System           string `yaml:"system"`
	Relevance        string `yaml:"relevance"`
	Reply            string `yaml:"reply"`
	ImageDescription string `yaml:"imageDescription"`
}

type relevanceInput struct {
	Sender      string
	Subject     string
	Body        string
	Attachments string
}

type replyInput struct {
	Sender      string
	Subject     string
	Date        string
	Body        string
	Attachments []string
	ToolContext string
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() *Prompts {
	p, err := newPrompts(promptFile{})
	if err != nil {
		panic(err) // built-in templates are constant
	}
	return p
}

// LoadPrompts reads a YAML prompt file. Keys left empty fall back to the
// built-in templates. An empty path returns the defaults.
func LoadPrompts(path string) (*Prompts, error) {
	if path == "" {
		return DefaultPrompts(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts %s: %w", path, err)
	}
	var pf promptFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	return newPrompts(pf)
}

func newPrompts(pf promptFile) (*Prompts, error) {
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	relevance, err := template.New("relevance").Option("missingkey=error").Parse(pick(pf.Relevance, defaultRelevancePrompt))
	if err != nil {
		return nil, fmt.Errorf("relevance prompt: %w", err)
	}
	reply, err := template.New("reply").Option("missingkey=error").Parse(pick(pf.Reply, defaultReplyPrompt))
	if err != nil {
		return nil, fmt.Errorf("reply prompt: %w", err)
	}
	return &Prompts{
		System:           pick(pf.System, defaultSystemPrompt),
		ImageDescription: pick(pf.ImageDescription, defaultImageDescriptionPrompt),
		relevance:        relevance,
		reply:            reply,
	}, nil
}

func (p *Prompts) renderRelevance(in relevanceInput) (string, error) {
	var sb strings.Builder
	if err := p.relevance.Execute(&sb, in); err != nil {
		return "", fmt.Errorf("render relevance prompt: %w", err)
	}
	return sb.String(), nil
}

func (p *Prompts) renderReply(in replyInput) (string, error) {
	var sb strings.Builder
	if err := p.reply.Execute(&sb, in); err != nil {
		return "", fmt.Errorf("render reply prompt: %w", err)
	}
	return sb.String(), nil
}
