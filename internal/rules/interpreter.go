package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/pkg/anthropic"
)

// Interpreter turns a rule's free-text description into a structured,
// replayable action with a confidence score. It runs only when a rule is
// created or edited; the audit pipeline consumes the persisted result and
// never calls the interpreter itself.
type Interpreter interface {
	Interpret(ctx context.Context, descripcion string, tipo model.TipoRegla) (*model.Interpretacion, error)
}

const interpretSystemPrompt = `Eres un intérprete de reglas de auditoría de cuentas médicas colombianas (glosas).
Convierte la descripción de la regla en EXACTAMENTE una de estas acciones:
- {"kind":"suppress_glosa_below","umbral":<pesos>} — eliminar glosas por debajo de un monto
- {"kind":"cap_glosa_amount","maximo":<pesos>} — limitar el monto de cada glosa
- {"kind":"require_authorization_for","categoria":"<CATEGORIA>"} — exigir autorización para una categoría de servicio
- {"kind":"exempt_patient_profile","perfil":{...}} — exentar validaciones para un perfil de paciente
  (campos del perfil: regimen "CONTRIBUTIVO"|"SUBSIDIADO", embarazada bool, desplazado bool, edad_menor int, edad_mayor int)

Responde SOLO un objeto JSON válido:
{"accion": <accion>, "confianza": <0-100>, "explicacion": "<una frase>"}
Si la descripción no corresponde a ninguna acción conocida, usa confianza baja (<50) y explica por qué.`

const interpretUserPrompt = `Tipo declarado: %s
Descripción de la regla:
%s`

// AnthropicInterpreter implements Interpreter over the Anthropic API.
type AnthropicInterpreter struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
}

// NewAnthropicInterpreter builds the production interpreter. A zero
// timeout defaults to 30s.
func NewAnthropicInterpreter(client anthropic.Client, modelID string, timeout time.Duration) *AnthropicInterpreter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnthropicInterpreter{client: client, model: modelID, timeout: timeout}
}

// Interpret issues a single synchronous message with a bounded timeout.
// On any failure the error propagates and the rule stays uninterpreted —
// an action is never guessed.
func (a *AnthropicInterpreter) Interpret(ctx context.Context, descripcion string, tipo model.TipoRegla) (*model.Interpretacion, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   512,
		System:      interpretSystemPrompt,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(interpretUserPrompt, tipo, descripcion)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "rules: interpret rule")
	}

	interp, err := parseInterpretation(resp.Text())
	if err != nil {
		return nil, err
	}

	zap.L().Info("rules: rule interpreted",
		zap.String("kind", string(interp.Accion.Kind)),
		zap.Float64("confianza", interp.Confianza),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return interp, nil
}

// parseInterpretation decodes the model's JSON reply into a validated
// Interpretacion. A reply that does not decode into a known action kind is
// an interpretation failure, not a default.
func parseInterpretation(text string) (*model.Interpretacion, error) {
	text = cleanJSON(text)

	var raw struct {
		Accion      model.Accion `json:"accion"`
		Confianza   float64      `json:"confianza"`
		Explicacion string       `json:"explicacion"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, eris.Wrap(err, "rules: decode interpretation")
	}

	if raw.Confianza < 0 {
		raw.Confianza = 0
	}
	if raw.Confianza > 100 {
		raw.Confianza = 100
	}

	interp := &model.Interpretacion{
		Accion:         raw.Accion,
		Confianza:      raw.Confianza,
		Explicacion:    raw.Explicacion,
		InterpretadaEn: time.Now().UTC(),
	}

	// Low-confidence replies may legitimately carry a malformed action;
	// they are stored as-is and the rule stays invalid until edited.
	if raw.Confianza >= model.ConfianzaMinima {
		if err := raw.Accion.Validate(); err != nil {
			return nil, eris.Wrap(err, "rules: interpreted action invalid")
		}
	}
	return interp, nil
}

// cleanJSON strips markdown fences and surrounding prose from a model
// reply, leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
