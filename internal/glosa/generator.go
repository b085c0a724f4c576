// Package glosa turns failed validations into formal glosas using the
// standard objection code table.
package glosa

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andina-health/glosas-cli/internal/model"
)

// Código de glosa por tipo de validación fallida.
const (
	CodigoSinAutorizacion     = "101"
	CodigoDiferenciaTarifa    = "102"
	CodigoSinHabilitacion     = "103"
	CodigoCUPSInexistente     = "201"
	CodigoIncoherenciaClinica = "301"
	CodigoIncoherenciaFechas  = "401"
)

var descripciones = map[string]string{
	CodigoSinAutorizacion:     "Servicio facturado sin autorización vigente",
	CodigoDiferenciaTarifa:    "Diferencia entre el valor facturado y el valor pactado",
	CodigoSinHabilitacion:     "Servicio prestado sin habilitación vigente",
	CodigoCUPSInexistente:     "Código CUPS no existe en la tarifa de referencia",
	CodigoIncoherenciaClinica: "Procedimiento incoherente con el diagnóstico reportado",
	CodigoIncoherenciaFechas:  "Incoherencia en las fechas del servicio",
}

var tipos = map[string]model.TipoGlosa{
	CodigoSinAutorizacion:     model.GlosaAutorizacion,
	CodigoDiferenciaTarifa:    model.GlosaTarifaria,
	CodigoSinHabilitacion:     model.GlosaTecnica,
	CodigoCUPSInexistente:     model.GlosaTecnica,
	CodigoIncoherenciaClinica: model.GlosaTecnica,
	CodigoIncoherenciaFechas:  model.GlosaAdministrativa,
}

// Generate emits one glosa for every failed, non-exempt validation. Tariff
// differences are glosed for the delta only; every other objection takes
// the item's full billed value.
func Generate(rad *model.Radicado, validaciones []model.Validacion) []model.Glosa {
	var glosas []model.Glosa
	now := time.Now().UTC()

	for _, v := range validaciones {
		if !v.Fallida() {
			continue
		}

		item, ok := rad.Item(v.ItemID)
		if !ok {
			zap.L().Warn("glosa: validation references unknown item",
				zap.String("radicado", rad.ID), zap.String("item", v.ItemID))
			continue
		}

		codigo := codigoPara(v)
		valor := item.ValorTotal
		if codigo == CodigoDiferenciaTarifa {
			if delta, ok := v.Detalles["delta"].(float64); ok && delta > 0 {
				valor = delta
			}
		}

		glosas = append(glosas, model.Glosa{
			ID:           uuid.New().String(),
			ItemID:       item.ID,
			Codigo:       codigo,
			Descripcion:  descripciones[codigo],
			Tipo:         tipos[codigo],
			Valor:        valor,
			ValidacionID: v.ID,
			CreatedAt:    now,
		})
	}

	return glosas
}

// codigoPara maps a validation to its objection code. A validator may
// override the default for its type through the codigo_glosa detail, which
// the tariff check uses to distinguish an unknown CUPS code from a simple
// price difference.
func codigoPara(v model.Validacion) string {
	if override, ok := v.Detalles["codigo_glosa"].(string); ok && override != "" {
		return override
	}
	switch v.Tipo {
	case model.ValidacionAutorizacion:
		return CodigoSinAutorizacion
	case model.ValidacionTarifa:
		return CodigoDiferenciaTarifa
	case model.ValidacionServicio:
		return CodigoSinHabilitacion
	case model.ValidacionCoherencia:
		return CodigoIncoherenciaClinica
	case model.ValidacionFechas:
		return CodigoIncoherenciaFechas
	default:
		return CodigoSinHabilitacion
	}
}
