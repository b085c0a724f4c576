package contract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/andina-health/glosas-cli/internal/model"
)

var fechaServicio = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

func convenio(id, eps, ips string, inicio time.Time) model.ConvenioTarifa {
	return model.ConvenioTarifa{
		ID:             id,
		EPSNit:         eps,
		IPSNit:         ips,
		FactorGlobal:   1.15,
		VigenciaInicio: inicio,
	}
}

func TestResolve_ProviderScopedWins(t *testing.T) {
	inicio := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	contratos := []model.ConvenioTarifa{
		convenio("default", "800100200", "", inicio),
		convenio("scoped", "800100200", "900300400", inicio),
	}

	c, ok := Resolve(contratos, "800100200", "900300400", fechaServicio)
	assert.True(t, ok)
	assert.Equal(t, "scoped", c.ID)
}

func TestResolve_FallsBackToPayerDefault(t *testing.T) {
	inicio := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	contratos := []model.ConvenioTarifa{
		convenio("default", "800100200", "", inicio),
		convenio("otro-ips", "800100200", "999999999", inicio),
	}

	c, ok := Resolve(contratos, "800100200", "900300400", fechaServicio)
	assert.True(t, ok)
	assert.Equal(t, "default", c.ID)
}

func TestResolve_RespectsValidityWindow(t *testing.T) {
	fin := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	vencido := convenio("vencido", "800100200", "", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	vencido.VigenciaFin = &fin

	_, ok := Resolve([]model.ConvenioTarifa{vencido}, "800100200", "900300400", fechaServicio)
	assert.False(t, ok)
}

func TestResolve_MostRecentStartWinsAmongEquals(t *testing.T) {
	contratos := []model.ConvenioTarifa{
		convenio("viejo", "800100200", "900300400", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)),
		convenio("nuevo", "800100200", "900300400", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}

	c, ok := Resolve(contratos, "800100200", "900300400", fechaServicio)
	assert.True(t, ok)
	assert.Equal(t, "nuevo", c.ID)
}

func TestResolve_NoMatch(t *testing.T) {
	contratos := []model.ConvenioTarifa{
		convenio("otra-eps", "111111111", "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}

	_, ok := Resolve(contratos, "800100200", "900300400", fechaServicio)
	assert.False(t, ok)
}
