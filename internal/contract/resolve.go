// Package contract resolves which payer-provider agreement prices a claim.
package contract

import (
	"time"

	"go.uber.org/zap"

	"github.com/andina-health/glosas-cli/internal/model"
)

// Resolve picks the contract applicable to (payer, provider) as of the
// service date. A provider-scoped contract always wins over the payer-wide
// default (empty IPSNit). Among equally specific candidates the one with
// the most recent validity start wins, so overlapping windows resolve
// deterministically. Returns false when no contract covers the date.
func Resolve(contratos []model.ConvenioTarifa, epsNit, ipsNit string, fecha time.Time) (*model.ConvenioTarifa, bool) {
	var mejor *model.ConvenioTarifa
	for i := range contratos {
		c := &contratos[i]
		if c.EPSNit != epsNit || !c.VigenteA(fecha) {
			continue
		}
		if c.IPSNit != "" && c.IPSNit != ipsNit {
			continue
		}
		if mejor == nil || masEspecifico(c, mejor) {
			mejor = c
		}
	}
	if mejor == nil {
		zap.L().Debug("contract: no applicable contract, degrading to global factor 1.0",
			zap.String("eps_nit", epsNit),
			zap.String("ips_nit", ipsNit),
			zap.Time("fecha", fecha),
		)
		return nil, false
	}
	return mejor, true
}

// masEspecifico reports whether a should replace b as the resolved contract.
func masEspecifico(a, b *model.ConvenioTarifa) bool {
	aScoped := a.IPSNit != ""
	bScoped := b.IPSNit != ""
	if aScoped != bScoped {
		return aScoped
	}
	return a.VigenciaInicio.After(b.VigenciaInicio)
}
