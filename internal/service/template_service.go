package service

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"

	appErrors "github.com/kipmyk/broadcast-service/internal/errors"
	"github.com/kipmyk/broadcast-service/internal/model"
)

// FallbackLanguage is used when a target's language has no phrasing template.
const FallbackLanguage = "en"

// phrasing holds the informal and formal register variants of one
// (tone, language) template. Languages without a T-V distinction carry the
// same source twice.
type phrasing struct {
	informal string
	formal   string
}

// Phrasing templates keyed by tone then language. The campaign's draft text
// and topic are injected through liquid bindings.
var phrasings = map[string]map[string]phrasing{
	model.ToneShort: {
		"en": {
			informal: `{{ text }}`,
			formal:   `{{ text }}`,
		},
		"de": {
			informal: `{{ text }}`,
			formal:   `{{ text }}`,
		},
		"ru": {
			informal: `{{ text }}`,
			formal:   `{{ text }}`,
		},
	},
	model.ToneFriendly: {
		"en": {
			informal: `Hey! {% if topic != "" %}Some news about {{ topic }}: {% endif %}{{ text }} See you soon!`,
			formal:   `Hello! {% if topic != "" %}Some news about {{ topic }}: {% endif %}{{ text }} See you soon!`,
		},
		"de": {
			informal: `Hi! {% if topic != "" %}Neues zum Thema {{ topic }}: {% endif %}{{ text }} Bis bald!`,
			formal:   `Hallo! {% if topic != "" %}Neues zum Thema {{ topic }}: {% endif %}{{ text }} Bis bald!`,
		},
		"ru": {
			informal: `Привет! {% if topic != "" %}Новости по теме «{{ topic }}»: {% endif %}{{ text }} До скорого!`,
			formal:   `Здравствуйте! {% if topic != "" %}Новости по теме «{{ topic }}»: {% endif %}{{ text }} До скорой встречи!`,
		},
	},
	model.ToneFormal: {
		"en": {
			informal: `Dear user, {% if topic != "" %}regarding {{ topic }}: {% endif %}{{ text }} Kind regards.`,
			formal:   `Dear user, {% if topic != "" %}regarding {{ topic }}: {% endif %}{{ text }} Kind regards.`,
		},
		"de": {
			informal: `Lieber Nutzer, {% if topic != "" %}zum Thema {{ topic }}: {% endif %}{{ text }} Viele Grüße.`,
			formal:   `Sehr geehrter Nutzer, {% if topic != "" %}zum Thema {{ topic }}: {% endif %}{{ text }} Mit freundlichen Grüßen.`,
		},
		"ru": {
			informal: `Дорогой пользователь, {% if topic != "" %}по теме «{{ topic }}»: {% endif %}{{ text }} Всего доброго.`,
			formal:   `Уважаемый пользователь, {% if topic != "" %}по теме «{{ topic }}»: {% endif %}{{ text }} С уважением.`,
		},
	},
}

// TemplateService renders per-target text from a campaign's draft. Rendering
// is a pure function of (campaign, target snapshot): no directory access, no
// clock, deterministic for identical inputs.
type TemplateService struct {
	templates map[string]*liquid.Template
}

// NewTemplateService compiles the phrasing table once.
func NewTemplateService() (*TemplateService, error) {
	engine := liquid.NewEngine()
	compiled := make(map[string]*liquid.Template)

	for tone, byLang := range phrasings {
		for lang, p := range byLang {
			for register, src := range map[string]string{"informal": p.informal, "formal": p.formal} {
				tpl, err := engine.ParseString(src)
				if err != nil {
					return nil, fmt.Errorf("compile %s/%s/%s template: %w", tone, lang, register, err)
				}
				compiled[templateKey(tone, lang, register)] = tpl
			}
		}
	}

	return &TemplateService{templates: compiled}, nil
}

// Render produces the recipient text for one target.
func (s *TemplateService) Render(campaign *model.Campaign, target *model.Target) (string, error) {
	return s.render(campaign.Tone, target.Language, target.FormalAddress, campaign.DraftText, campaign.Topic)
}

// RenderPreview renders with an optional draft-text override, for the admin
// personalized-preview endpoint.
func (s *TemplateService) RenderPreview(campaign *model.Campaign, target *model.Target, overrideText *string) (string, error) {
	text := campaign.DraftText
	if overrideText != nil && strings.TrimSpace(*overrideText) != "" {
		text = *overrideText
	}
	return s.render(campaign.Tone, target.Language, target.FormalAddress, text, campaign.Topic)
}

// Supported reports whether a language has phrasing templates for the tone.
func (s *TemplateService) Supported(tone, language string) bool {
	_, ok := s.templates[templateKey(tone, language, "informal")]
	return ok
}

func (s *TemplateService) render(tone, language string, formal bool, text, topic string) (string, error) {
	register := "informal"
	if formal {
		register = "formal"
	}

	tpl, ok := s.templates[templateKey(tone, language, register)]
	if !ok {
		return "", appErrors.NewUnsupportedLanguage(language)
	}

	out, err := tpl.RenderString(map[string]interface{}{
		"text":  text,
		"topic": topic,
	})
	if err != nil {
		return "", fmt.Errorf("render %s/%s template: %w", tone, language, err)
	}
	return strings.TrimSpace(out), nil
}

func templateKey(tone, lang, register string) string {
	return tone + "/" + lang + "/" + register
}
