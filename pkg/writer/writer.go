// Package writer implements the Writer component (spec §4.5): given a
// business record and an organisation/product descriptor, it produces a
// personalised icebreaker, subject line, and the template/formula that
// generated them, via an LLM call routed through pkg/llm. On any exception
// it classifies the failure and retries per spec's error policy, falling
// back to a deterministic icebreaker rather than ever failing the caller —
// the pipeline must never terminate a campaign because the Writer failed
// for some businesses.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-engine/internal/model"
	"github.com/sells-group/leadgen-engine/pkg/llm"
)

// Template is an explicit rhetorical structure an operator can pin a
// campaign to, bypassing the auto formula picker.
type Template string

const (
	TemplateSpecificQuestion Template = "specific_question"
	TemplatePeerSocialProof  Template = "peer_social_proof"
	TemplateWebsiteInsight   Template = "website_insight"
	TemplateProblemAgitation Template = "problem_agitation"
	TemplateCuriosityHook    Template = "curiosity_hook"
	TemplateDirectValue      Template = "direct_value"
	TemplateAuto             Template = "auto"
)

// Formula is the rhetorical opener/CTA shape used for one generation.
type Formula string

const (
	FormulaWebsiteInsight   Formula = "website-insight"
	FormulaLocalContext     Formula = "local-context"
	FormulaIndustryQuestion Formula = "industry-question"
	FormulaSocialProof      Formula = "social-proof"
	FormulaDirectValue      Formula = "direct-value"
	FormulaCuriosityHook    Formula = "curiosity-hook"
	FormulaProblemAgitation Formula = "problem-agitation"
)

// formulaOrder is the fixed iteration order the weighted picker walks; it
// must stay stable across runs for the deterministic-seed walk to be
// reproducible.
var formulaOrder = []Formula{
	FormulaWebsiteInsight,
	FormulaLocalContext,
	FormulaIndustryQuestion,
	FormulaSocialProof,
	FormulaDirectValue,
	FormulaCuriosityHook,
	FormulaProblemAgitation,
}

// explicitTemplateFormula maps an operator-pinned template onto the
// rhetorical formula it corresponds to, for the FormulaUsed field.
var explicitTemplateFormula = map[Template]Formula{
	TemplateSpecificQuestion: FormulaIndustryQuestion,
	TemplatePeerSocialProof:  FormulaSocialProof,
	TemplateWebsiteInsight:   FormulaWebsiteInsight,
	TemplateProblemAgitation: FormulaProblemAgitation,
	TemplateCuriosityHook:    FormulaCuriosityHook,
	TemplateDirectValue:      FormulaDirectValue,
}

// subjectStyles is the closed list of subject-line styles spec §4.5
// requires choosing uniformly at random per call.
var subjectStyles = []string{"business-name", "city-category", "question", "re-style", "direct-benefit", "curiosity"}

// forbiddenPhrases is the closed list of overused openers the prompt must
// instruct the model never to use.
var forbiddenPhrases = []string{
	"quick question", "hope this finds you well", "i noticed", "i hope you're doing well",
	"i wanted to reach out", "just wanted to", "i came across your",
}

// NumVariants bounds the A/B bucket space for the deterministic variant
// assignment (spec §4.5: "variant = hash(business_id xor campaign_id) mod
// N"). The spec leaves N unspecified; 4 buckets gives enough spread for
// A/B analysis without fragmenting small campaigns.
const NumVariants = 4

// fallbackSubjectTemplates are non-generic subject lines used when the
// Writer falls back (spec: "fallback subject from a non-generic set").
var fallbackSubjectTemplates = []string{
	"%s — quick thought",
	"For the team at %s",
	"A note about %s",
	"Following up re: %s",
}

// Product describes the organisation/offer the icebreaker should pitch.
type Product struct {
	OrgName          string
	Description      string
	TargetCategories []string
}

// Input bundles everything Writer needs to generate copy for one business.
type Input struct {
	Business      model.Business
	Template      string // explicit campaign template, "" or "auto" routes via the formula picker
	Product       Product
	PageSummaries []string // scraped-page summaries, when available
}

// Config parameterises a Writer.
type Config struct {
	Model     string
	MaxTokens int64
}

// Writer is the Writer component.
type Writer struct {
	llm llm.Client
	cfg Config
}

// New builds a Writer. MaxTokens defaults to 512 when zero.
func New(client llm.Client, cfg Config) *Writer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Writer{llm: client, cfg: cfg}
}

// Generate produces {icebreaker, subject_line, template_used, formula_used}
// for one business, applying spec §4.5's template routing, deterministic
// A/B variant assignment, and error-classification retry policy.
func (w *Writer) Generate(ctx context.Context, in Input) model.CopyResult {
	template, formula := routeTemplate(in)
	variant := model.Variant(in.Business.ID, in.Business.CampaignID, NumVariants)

	var lastErr error
	for attempt := 1; ; attempt++ {
		result, err := w.attempt(ctx, in, template, formula, variant)
		if err == nil {
			return result
		}
		lastErr = err

		class := llm.ClassifyError(err)
		var maxAttempts int
		var delay time.Duration
		switch class {
		case llm.ErrRateLimit:
			maxAttempts = 3
			delay = time.Duration(60+20*attempt) * time.Second
		case llm.ErrServerError:
			maxAttempts = 3
			delay = time.Duration(10) * time.Second * time.Duration(1<<uint(attempt))
		case llm.ErrNetwork:
			maxAttempts = 2
			delay = time.Duration(5*attempt) * time.Second
		default:
			zap.L().Warn("writer: unclassified generation failure, using fallback",
				zap.String("business_id", in.Business.ID), zap.Error(err))
			return w.fallback(in, string(template), formula, variant)
		}

		if attempt >= maxAttempts {
			zap.L().Warn("writer: retries exhausted, using fallback",
				zap.String("business_id", in.Business.ID), zap.Int("attempts", attempt), zap.Error(lastErr))
			return w.fallback(in, string(template), formula, variant)
		}

		select {
		case <-ctx.Done():
			return w.fallback(in, string(template), formula, variant)
		case <-time.After(delay):
		}
	}
}

// routeTemplate resolves the explicit campaign template, or picks a formula
// by deterministic weighted random when the campaign is in auto mode (spec
// §4.5: website-insight weight 3.0 when website content is available, 0.5
// otherwise; direct-value boosted when the business's category is in the
// product's target_categories list).
func routeTemplate(in Input) (Template, Formula) {
	t := Template(strings.TrimSpace(in.Template))
	if f, ok := explicitTemplateFormula[t]; ok {
		return t, f
	}

	weights := make(map[Formula]float64, len(formulaOrder))
	for _, f := range formulaOrder {
		weights[f] = 1.0
	}
	if in.Business.Website != "" || len(in.PageSummaries) > 0 {
		weights[FormulaWebsiteInsight] = 3.0
	} else {
		weights[FormulaWebsiteInsight] = 0.5
	}
	if inTargetCategories(in.Business.Categories, in.Product.TargetCategories) {
		weights[FormulaDirectValue] = 3.0
	}

	total := 0.0
	for _, f := range formulaOrder {
		total += weights[f]
	}
	r := seedFloat(in.Business.ID, in.Business.CampaignID, "formula") * total
	cum := 0.0
	for _, f := range formulaOrder {
		cum += weights[f]
		if r < cum {
			return TemplateAuto, f
		}
	}
	return TemplateAuto, formulaOrder[len(formulaOrder)-1]
}

func inTargetCategories(categories, targets []string) bool {
	if len(targets) == 0 {
		return false
	}
	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[strings.ToLower(strings.TrimSpace(t))] = true
	}
	for _, c := range categories {
		if targetSet[strings.ToLower(strings.TrimSpace(c))] {
			return true
		}
	}
	return false
}

type generationResponse struct {
	Icebreaker string `json:"icebreaker"`
	Subject    string `json:"subject"`
}

// attempt issues one LLM call and parses its JSON response. Errors are
// returned unclassified — the caller applies spec §4.5's retry policy.
func (w *Writer) attempt(ctx context.Context, in Input, template Template, formula Formula, variant int) (model.CopyResult, error) {
	style := subjectStyles[int(seedFloat(in.Business.ID, in.Business.CampaignID, "subject")*float64(len(subjectStyles)))%len(subjectStyles)]

	resp, err := w.llm.CreateJSON(ctx, llm.Request{
		Model:     w.cfg.Model,
		MaxTokens: w.cfg.MaxTokens,
		System:    systemPrompt(formula, style),
		Prompt:    userPrompt(in),
	})
	if err != nil {
		return model.CopyResult{}, eris.Wrap(err, "writer: generate")
	}

	var parsed generationResponse
	if err := parseJSONObject(resp.Text, &parsed); err != nil {
		return model.CopyResult{}, eris.Wrap(err, "writer: parse generation response")
	}
	if strings.TrimSpace(parsed.Icebreaker) == "" {
		return model.CopyResult{}, eris.New("writer: empty icebreaker in response")
	}

	return model.CopyResult{
		Icebreaker:   strings.TrimSpace(parsed.Icebreaker),
		SubjectLine:  truncateSubject(parsed.Subject),
		TemplateUsed: string(template),
		FormulaUsed:  string(formula),
		Variant:      variant,
	}, nil
}

func systemPrompt(formula Formula, subjectStyle string) string {
	var sb strings.Builder
	sb.WriteString("You write short, personalised cold-outreach icebreakers for local businesses. ")
	sb.WriteString(fmt.Sprintf("Use the %q rhetorical formula for the opener and call-to-action shape. ", formula))
	sb.WriteString("Never use any of these overused phrases: ")
	sb.WriteString(strings.Join(forbiddenPhrases, "; "))
	sb.WriteString(". The icebreaker must be at most 60 words across 3-4 sentences, and end with exactly one ")
	sb.WriteString("interrogative call-to-action of 6 words or fewer. ")
	sb.WriteString(fmt.Sprintf("The subject line must adopt the %q style and be as short as possible. ", subjectStyle))
	sb.WriteString(`Respond with ONLY a JSON object: {"icebreaker": "...", "subject": "..."}`)
	return sb.String()
}

func userPrompt(in Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Business: %s\n", in.Business.Name)
	if len(in.Business.Categories) > 0 {
		fmt.Fprintf(&sb, "Category: %s\n", strings.Join(in.Business.Categories, ", "))
	}
	if in.Business.Address.City != "" {
		fmt.Fprintf(&sb, "City: %s\n", in.Business.Address.City)
	}
	if in.Business.Website != "" {
		fmt.Fprintf(&sb, "Website: %s\n", in.Business.Website)
	}
	for _, s := range in.PageSummaries {
		fmt.Fprintf(&sb, "Page summary: %s\n", s)
	}
	fmt.Fprintf(&sb, "Sender org: %s\n", in.Product.OrgName)
	fmt.Fprintf(&sb, "Sender offer: %s\n", in.Product.Description)
	return sb.String()
}

// fallback synthesises a deterministic icebreaker and non-generic subject
// line from available fields, per spec §4.5's "anything else" policy.
func (w *Writer) fallback(in Input, template string, formula Formula, variant int) model.CopyResult {
	name := in.Business.Name
	city := in.Business.Address.City
	category := ""
	if len(in.Business.Categories) > 0 {
		category = in.Business.Categories[0]
	}

	var icebreaker string
	switch {
	case category != "" && city != "":
		icebreaker = fmt.Sprintf("Came across %s while looking at %s businesses in %s — do you have a few minutes to connect this week?", name, category, city)
	case city != "":
		icebreaker = fmt.Sprintf("Came across %s while researching businesses in %s — do you have a few minutes to connect this week?", name, city)
	default:
		icebreaker = fmt.Sprintf("Came across %s and wanted to reach out directly — do you have a few minutes to connect this week?", name)
	}

	idx := int(seedFloat(in.Business.ID, in.Business.CampaignID, "fallback-subject") * float64(len(fallbackSubjectTemplates)))
	if idx >= len(fallbackSubjectTemplates) {
		idx = len(fallbackSubjectTemplates) - 1
	}
	subject := fmt.Sprintf(fallbackSubjectTemplates[idx], name)

	return model.CopyResult{
		Icebreaker:   icebreaker,
		SubjectLine:  truncateSubject(subject),
		TemplateUsed: template,
		FormulaUsed:  string(formula),
		Variant:      variant,
	}
}

// truncateSubject enforces the subject_line <= 40 character invariant
// (spec §8.4), ellipsis-truncating longer lines.
func truncateSubject(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= 40 {
		return s
	}
	return strings.TrimSpace(string(r[:37])) + "..."
}

// seedFloat derives a deterministic pseudo-random value in [0, 1) from a
// (business, campaign, salt) triple, so weighted-formula and subject-style
// selection are stable across reruns for the same prospect — consistent
// with the A/B variant's determinism invariant even though spec §4.5
// describes the picks as "weighted random"/"uniformly at random".
func seedFloat(businessID, campaignID, salt string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(businessID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(campaignID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(salt))
	return float64(h.Sum64()%1_000_000) / 1_000_000.0
}

// parseJSONObject extracts the first top-level JSON object from text (the
// model may wrap its JSON in prose despite instructions) and unmarshals it.
func parseJSONObject(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < 0 || end <= start {
		return eris.Errorf("writer: no JSON object in response: %s", truncate(text, 200))
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
