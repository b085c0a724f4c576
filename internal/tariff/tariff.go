// Package tariff computes expected pacted values, moderating fees and
// copayments. Every function here is pure: reference data in, pesos out.
package tariff

import (
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/andina-health/glosas-cli/internal/catalog"
	"github.com/andina-health/glosas-cli/internal/model"
)

// ErrTarifaDesconocida is returned when a procedure code is missing from
// the reference schedule. It blocks only the affected line item.
var ErrTarifaDesconocida = eris.New("tariff: procedure code not in reference schedule")

// ExpectedValue resolves the pacted value for a procedure as of the service
// date. Precedence: procedure-specific pacted value, then category
// multiplier, then the contract's global factor. With no active contract the
// reference tariff applies unchanged (global factor 1.0).
func ExpectedValue(cat catalog.Catalog, contrato *model.ConvenioTarifa, cups string, fecha time.Time) (float64, error) {
	if contrato != nil {
		if valor, ok := contrato.ValorPactadoPara(cups, fecha); ok {
			return valor, nil
		}
	}

	tarifa, ok := cat.Lookup(cups)
	if !ok {
		return 0, eris.Wrapf(ErrTarifaDesconocida, "cups %s", cups)
	}

	if contrato == nil {
		return redondear(tarifa.Valor), nil
	}

	if factor, ok := contrato.MultiplicadorPara(tarifa.Categoria); ok {
		return redondear(tarifa.Valor * factor), nil
	}

	return redondear(tarifa.Valor * contrato.FactorGlobal), nil
}

// ModeratingFee computes the cuota moderadora for a matched fee row.
// An exemption matching the patient profile always yields 0, regardless of
// how the row's value is configured. Fixed values win over percentages;
// both respect the cap when one is set.
func ModeratingFee(cuota model.CuotaModeradora, paciente model.PerfilPaciente, salarioMinimo float64, fecha time.Time) float64 {
	if cuota.Exento(paciente, paciente.EdadA(fecha)) {
		return 0
	}
	if cuota.ValorFijo > 0 {
		return aplicarTope(cuota.ValorFijo, cuota.Tope)
	}
	if cuota.Porcentaje > 0 {
		return aplicarTope(redondear(salarioMinimo*cuota.Porcentaje/100), cuota.Tope)
	}
	return 0
}

// Copay computes the percentage-based patient co-payment from the
// contract's copay table. Returns 0 when no row matches.
func Copay(contrato *model.ConvenioTarifa, regimen model.Regimen, categoriaIngreso string, valorFacturado float64) float64 {
	if contrato == nil {
		return 0
	}
	copago, ok := contrato.CopagoPara(regimen, categoriaIngreso)
	if !ok {
		return 0
	}
	return aplicarTope(redondear(valorFacturado*copago.Porcentaje/100), copago.Tope)
}

// Variance returns the relative deviation |billed-expected|/expected.
// A zero expected value yields +Inf for any nonzero billed value.
func Variance(facturado, esperado float64) float64 {
	if esperado == 0 {
		if facturado == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(facturado-esperado) / esperado
}

// redondear rounds to whole pesos.
func redondear(v float64) float64 {
	return math.Round(v)
}

func aplicarTope(v float64, tope *float64) float64 {
	if tope != nil && v > *tope {
		return *tope
	}
	return v
}
