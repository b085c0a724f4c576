// Package liquidation aggregates a pass's final glosas into the payable
// settlement for a radicado.
package liquidation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andina-health/glosas-cli/internal/model"
)

// Build computes the settlement from the surviving glosas. The accepted
// value covers only items with no glosa at all; the payable amount is the
// billed total minus the glosed total, never below zero.
func Build(rad *model.Radicado, glosas []model.Glosa, aplicaciones []model.AplicacionRegla) model.Liquidacion {
	var facturado float64
	glosadoPorItem := make(map[string]float64)
	for _, g := range glosas {
		glosadoPorItem[g.ItemID] += g.Valor
	}

	var aceptado, glosado float64
	for _, item := range rad.Items {
		facturado += item.ValorTotal
		if glosadoPorItem[item.ID] == 0 {
			aceptado += item.ValorTotal
		}
	}
	for _, g := range glosas {
		glosado += g.Valor
	}

	aPagar := facturado - glosado
	if aPagar < 0 {
		aPagar = 0
	}

	liq := model.Liquidacion{
		ID:            uuid.New().String(),
		RadicadoID:    rad.ID,
		ValorAceptado: math.Round(aceptado),
		ValorGlosado:  math.Round(glosado),
		ValorAPagar:   math.Round(aPagar),
		Observaciones: observaciones(rad, glosas, aplicaciones),
		CreatedAt:     time.Now().UTC(),
	}

	zap.L().Info("liquidation: settlement built",
		zap.String("radicado", rad.ID),
		zap.Float64("facturado", facturado),
		zap.Float64("glosado", liq.ValorGlosado),
		zap.Float64("a_pagar", liq.ValorAPagar),
	)
	return liq
}

func observaciones(rad *model.Radicado, glosas []model.Glosa, aplicaciones []model.AplicacionRegla) []string {
	var obs []string

	if len(glosas) == 0 {
		obs = append(obs, "Radicado sin glosas: se reconoce el valor total facturado")
	} else {
		porCodigo := make(map[string]int)
		valorPorCodigo := make(map[string]float64)
		for _, g := range glosas {
			porCodigo[g.Codigo]++
			valorPorCodigo[g.Codigo] += g.Valor
		}
		codigos := make([]string, 0, len(porCodigo))
		for c := range porCodigo {
			codigos = append(codigos, c)
		}
		sort.Strings(codigos)
		for _, c := range codigos {
			obs = append(obs, fmt.Sprintf("Glosa %s aplicada %d vez(es) por $%.0f", c, porCodigo[c], valorPorCodigo[c]))
		}
	}

	for _, app := range aplicaciones {
		switch app.Kind {
		case model.AccionSuprimirGlosaBajo:
			obs = append(obs, fmt.Sprintf("Regla personalizada suprimió %d glosa(s) por $%.0f", app.GlosasEvitadas, app.ValorAfectado))
		case model.AccionLimitarGlosa:
			obs = append(obs, fmt.Sprintf("Regla personalizada limitó %d glosa(s), reduciendo $%.0f", app.VecesAplicada, app.ValorAfectado))
		case model.AccionExentarPerfil:
			obs = append(obs, fmt.Sprintf("Regla personalizada exoneró al paciente de %d validación(es)", app.VecesAplicada))
		case model.AccionRequerirAutorizacion:
			obs = append(obs, fmt.Sprintf("Regla personalizada exigió autorización en %d servicio(s) por $%.0f", app.VecesAplicada, app.ValorAfectado))
		}
	}

	return obs
}
